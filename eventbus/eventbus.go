// Package eventbus implements the in-process message bus: point-to-point
// send, publish to every consumer and request-reply with timeouts.
//
// Consumers are readable streams of messages delivered on the context that
// registered them. A paused consumer buffers up to its limit and then drops
// further messages. Producers are writable streams that send or publish
// every item written to them.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultReplyTimeout        = 30 * time.Second
	DefaultMaxBufferedMessages = 1000
)

type options struct {
	replyTimeout time.Duration
	maxBuffered  int
}

// Option configures a Bus.
type Option func(*options)

// WithReplyTimeout sets the default request timeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.replyTimeout = d
	}
}

// WithMaxBufferedMessages sets the default consumer buffer.
func WithMaxBufferedMessages(n int) Option {
	return func(o *options) {
		o.maxBuffered = n
	}
}

type consumerList struct {
	consumers []*Consumer
	next      int
}

type pendingReply struct {
	promise *future.Promise[*Message]
	timer   *time.Timer
}

// Bus routes messages between consumers on a group of contexts.
type Bus struct {
	group *eventloop.Group
	opts  options

	mu        sync.Mutex
	consumers map[string]*consumerList
	replies   map[string]*pendingReply
	closed    bool
}

// New creates a bus delivering on g.
func New(g *eventloop.Group, opts ...Option) *Bus {
	o := options{
		replyTimeout: DefaultReplyTimeout,
		maxBuffered:  DefaultMaxBufferedMessages,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{
		group:     g,
		opts:      o,
		consumers: make(map[string]*consumerList),
		replies:   make(map[string]*pendingReply),
	}
}

// Send delivers body to one consumer of address. Consumers take turns.
// Messages to an address without consumers are discarded.
func (b *Bus) Send(address string, body any, opts *DeliveryOptions) {
	b.deliver(address, body, opts, true, "")
}

// Publish delivers body to every consumer of address.
func (b *Bus) Publish(address string, body any, opts *DeliveryOptions) {
	b.deliver(address, body, opts, false, "")
}

// Request sends body to one consumer and completes with its reply. It
// fails with a ReplyError when nobody consumes address, when the recipient
// calls Fail, or when no reply arrives in time.
func (b *Bus) Request(address string, body any, opts *DeliveryOptions) *future.Future[*Message] {
	ctx := b.group.OrCreate()
	p := future.NewPromise[*Message](ctx)

	timeout := b.opts.replyTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	replyAddress := "__vertigo.reply." + uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		p.Fail(&ReplyError{Failure: NoHandlers, Code: -1, Message: "event bus is closed"})
		return p.Future()
	}
	pr := &pendingReply{promise: p}
	b.replies[replyAddress] = pr
	pr.timer = time.AfterFunc(timeout, func() {
		if b.takeReply(replyAddress) != nil {
			p.Fail(&ReplyError{
				Failure: Timeout,
				Code:    -1,
				Message: fmt.Sprintf("Timed out after waiting %s for a reply. address: %s", timeout, address),
			})
		}
	})
	b.mu.Unlock()

	if !b.deliver(address, body, opts, true, replyAddress) {
		if pr := b.takeReply(replyAddress); pr != nil {
			pr.timer.Stop()
			p.Fail(&ReplyError{Failure: NoHandlers, Code: -1, Message: "No handlers for address " + address})
		}
	}
	return p.Future()
}

func (b *Bus) takeReply(address string) *pendingReply {
	b.mu.Lock()
	defer b.mu.Unlock()
	pr, ok := b.replies[address]
	if !ok {
		return nil
	}
	delete(b.replies, address)
	return pr
}

// deliver routes one message and reports whether anybody received it.
func (b *Bus) deliver(address string, body any, opts *DeliveryOptions, send bool, replyAddress string) bool {
	headers := multimap.New()
	if opts != nil && opts.Headers != nil {
		headers = opts.Headers.Copy()
	}

	if pr := b.takeReply(address); pr != nil {
		pr.timer.Stop()
		if f, ok := body.(*failureReply); ok {
			pr.promise.Fail(&ReplyError{Failure: RecipientFailure, Code: f.code, Message: f.message})
			return true
		}
		pr.promise.Complete(&Message{
			bus:          b,
			address:      address,
			replyAddress: replyAddress,
			headers:      headers,
			body:         copyBody(body),
			send:         true,
		})
		return true
	}

	b.mu.Lock()
	list := b.consumers[address]
	if b.closed || list == nil || len(list.consumers) == 0 {
		b.mu.Unlock()
		Logger().Debug("no consumers for address", zap.String("address", address))
		return false
	}
	var targets []*Consumer
	if send {
		targets = []*Consumer{list.consumers[list.next%len(list.consumers)]}
		list.next++
	} else {
		targets = append(targets, list.consumers...)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.push(&Message{
			bus:          b,
			address:      address,
			replyAddress: replyAddress,
			headers:      headers.Copy(),
			body:         copyBody(body),
			send:         send,
		})
	}
	return true
}

// Consumer creates a consumer of address. It registers once a handler is
// installed.
func (b *Bus) Consumer(address string) *Consumer {
	return newConsumer(b, address, false)
}

// LocalConsumer creates a consumer that is never visible outside this
// process. Without clustering it behaves like Consumer.
func (b *Bus) LocalConsumer(address string) *Consumer {
	return newConsumer(b, address, true)
}

// Sender creates a producer that sends every written item.
func (b *Bus) Sender(address string, opts *DeliveryOptions) *Producer {
	return newProducer(b, address, false, opts)
}

// Publisher creates a producer that publishes every written item.
func (b *Bus) Publisher(address string, opts *DeliveryOptions) *Producer {
	return newProducer(b, address, true, opts)
}

// Consumers returns the number of registered consumers of address.
func (b *Bus) Consumers(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if list := b.consumers[address]; list != nil {
		return len(list.consumers)
	}
	return 0
}

func (b *Bus) register(c *Consumer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	list := b.consumers[c.address]
	if list == nil {
		list = &consumerList{}
		b.consumers[c.address] = list
	}
	list.consumers = append(list.consumers, c)
	return true
}

func (b *Bus) unregister(c *Consumer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.consumers[c.address]
	if list == nil {
		return false
	}
	for i, existing := range list.consumers {
		if existing == c {
			list.consumers = append(list.consumers[:i], list.consumers[i+1:]...)
			if len(list.consumers) == 0 {
				delete(b.consumers, c.address)
			}
			return true
		}
	}
	return false
}

// Close unregisters every consumer and fails every pending request.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var consumers []*Consumer
	for _, list := range b.consumers {
		consumers = append(consumers, list.consumers...)
	}
	b.consumers = make(map[string]*consumerList)
	replies := b.replies
	b.replies = make(map[string]*pendingReply)
	b.mu.Unlock()

	for _, c := range consumers {
		c.closeStream()
	}
	for _, pr := range replies {
		pr.timer.Stop()
		pr.promise.Fail(&ReplyError{Failure: NoHandlers, Code: -1, Message: "event bus is closed"})
	}
}
