package eventbus

import (
	"sync"

	"github.com/caffeineduck/vertigo/stream"
)

// Producer is a WriteStream that sends or publishes each item to one
// address.
type Producer struct {
	*stream.Outbound[any]

	bus     *Bus
	address string
	publish bool

	mu   sync.Mutex
	opts *DeliveryOptions
}

func newProducer(b *Bus, address string, publish bool, opts *DeliveryOptions) *Producer {
	p := &Producer{bus: b, address: address, publish: publish, opts: opts}
	p.Outbound = stream.NewOutbound(b.group.OrCreate(), p.sink,
		stream.WithWriteQueueMaxSize[any](DefaultMaxBufferedMessages),
		stream.WithName[any]("message producer "+address))
	return p
}

func (p *Producer) sink(body any) error {
	p.mu.Lock()
	opts := p.opts
	p.mu.Unlock()
	if p.publish {
		p.bus.Publish(p.address, body, opts)
	} else {
		p.bus.Send(p.address, body, opts)
	}
	return nil
}

func (p *Producer) Address() string {
	return p.address
}

// SetDeliveryOptions applies opts to later writes.
func (p *Producer) SetDeliveryOptions(opts *DeliveryOptions) {
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
}

// Close ends the producer.
func (p *Producer) Close() {
	p.End()
}
