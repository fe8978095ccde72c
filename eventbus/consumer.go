package eventbus

import (
	"sync"

	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/stream"
	"go.uber.org/zap"
)

// Consumer is a registration on an address. It is a ReadStream of
// messages.
type Consumer struct {
	bus     *Bus
	address string
	local   bool
	ctx     *eventloop.Context

	mu          sync.Mutex
	in          *stream.Inbound[*Message]
	registered  bool
	maxBuffered int
	onEnd       func()
	onError     func(error)
}

func newConsumer(b *Bus, address string, local bool) *Consumer {
	ctx := b.group.OrCreate()
	return &Consumer{
		bus:         b,
		address:     address,
		local:       local,
		ctx:         ctx,
		maxBuffered: b.opts.maxBuffered,
		in:          stream.NewInbound[*Message](ctx, stream.WithMaxBuffered(b.opts.maxBuffered)),
	}
}

func (c *Consumer) Address() string {
	return c.address
}

func (c *Consumer) IsLocal() bool {
	return c.local
}

// Handler installs the message handler and registers the consumer. A nil
// handler unregisters it. Setting a handler on an unregistered consumer
// registers it again with a fresh message stream.
func (c *Consumer) Handler(h func(*Message)) {
	if h == nil {
		c.Unregister()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in.Finished() {
		c.in = stream.NewInbound[*Message](c.ctx, stream.WithMaxBuffered(c.maxBuffered))
		c.in.EndHandler(c.onEnd)
		c.in.ExceptionHandler(c.onError)
	}
	c.in.Handler(h)
	if !c.registered {
		c.registered = c.bus.register(c)
	}
}

func (c *Consumer) stream() *stream.Inbound[*Message] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in
}

func (c *Consumer) Pause() {
	c.stream().Pause()
}

func (c *Consumer) Resume() {
	c.stream().Resume()
}

// EndHandler is called once the consumer is unregistered and every
// buffered message has been delivered.
func (c *Consumer) EndHandler(h func()) {
	c.mu.Lock()
	c.onEnd = h
	in := c.in
	c.mu.Unlock()
	in.EndHandler(h)
}

func (c *Consumer) ExceptionHandler(h func(error)) {
	c.mu.Lock()
	c.onError = h
	in := c.in
	c.mu.Unlock()
	in.ExceptionHandler(h)
}

func (c *Consumer) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// SetMaxBufferedMessages bounds the messages kept while paused. Messages
// beyond the bound are dropped.
func (c *Consumer) SetMaxBufferedMessages(n int) {
	c.mu.Lock()
	c.maxBuffered = n
	in := c.in
	c.mu.Unlock()
	in.SetMaxBuffered(n)
}

func (c *Consumer) MaxBufferedMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxBuffered
}

// Unregister removes the consumer from its address. The returned future
// completes on the consumer's context.
func (c *Consumer) Unregister() *future.Future[struct{}] {
	p := future.NewPromise[struct{}](c.ctx)
	c.mu.Lock()
	was := c.registered
	c.registered = false
	in := c.in
	c.mu.Unlock()
	if was {
		c.bus.unregister(c)
	}
	in.Finish()
	c.ctx.RunOnContext(func() { p.Complete(struct{}{}) })
	return p.Future()
}

func (c *Consumer) closeStream() {
	c.mu.Lock()
	c.registered = false
	in := c.in
	c.mu.Unlock()
	in.Finish()
}

func (c *Consumer) push(m *Message) {
	in := c.stream()
	if !in.Push(m) {
		Logger().Debug("dropping message for consumer",
			zap.String("address", c.address),
			zap.Int("buffered", in.Buffered()))
	}
}
