package eventbus

import (
	"fmt"
	"time"

	"github.com/caffeineduck/vertigo/buffer"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/multimap"
	"github.com/caffeineduck/vertigo/value"
)

// ReplyFailure classifies a failed request.
type ReplyFailure int

const (
	Timeout ReplyFailure = iota
	NoHandlers
	RecipientFailure
)

// ReplyFailures is the caller-facing enumeration of ReplyFailure.
var ReplyFailures = value.NewEnum[ReplyFailure]("ReplyFailure", "TIMEOUT", "NO_HANDLERS", "RECIPIENT_FAILURE")

func (f ReplyFailure) String() string {
	return ReplyFailures.Name(f)
}

// ReplyError is the failure of a request.
type ReplyError struct {
	Failure ReplyFailure
	Code    int
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Failure, e.Code)
	}
	return e.Message
}

// DeliveryOptions configures one send, publish or request.
type DeliveryOptions struct {
	// Timeout bounds how long a request waits for its reply. Zero uses
	// the bus default.
	Timeout time.Duration
	Headers *multimap.MultiMap
}

// failureReply travels back to a requester when the recipient fails the
// message.
type failureReply struct {
	code    int
	message string
}

// Message is one delivered message.
type Message struct {
	bus          *Bus
	address      string
	replyAddress string
	headers      *multimap.MultiMap
	body         any
	send         bool
}

func (m *Message) Address() string {
	return m.address
}

// ReplyAddress is empty unless the sender expects a reply.
func (m *Message) ReplyAddress() string {
	return m.replyAddress
}

func (m *Message) Headers() *multimap.MultiMap {
	return m.headers
}

func (m *Message) Body() any {
	return m.body
}

// IsSend reports whether the message was sent point-to-point rather than
// published.
func (m *Message) IsSend() bool {
	return m.send
}

// Reply answers the sender. It does nothing when no reply is expected.
func (m *Message) Reply(body any, opts *DeliveryOptions) {
	if m.replyAddress == "" {
		return
	}
	m.bus.deliver(m.replyAddress, body, opts, true, "")
}

// ReplyAndRequest answers the sender and waits for its answer in turn.
func (m *Message) ReplyAndRequest(body any, opts *DeliveryOptions) *future.Future[*Message] {
	if m.replyAddress == "" {
		return future.FailedFuture[*Message](&ReplyError{Failure: NoHandlers, Code: -1, Message: "message has no reply address"})
	}
	return m.bus.Request(m.replyAddress, body, opts)
}

// Fail signals a recipient failure to the sender.
func (m *Message) Fail(code int, message string) {
	if m.replyAddress == "" {
		return
	}
	m.bus.deliver(m.replyAddress, &failureReply{code: code, message: message}, nil, true, "")
}

// copyBody isolates mutable bodies between recipients.
func copyBody(body any) any {
	switch b := body.(type) {
	case *value.JsonObject:
		if b != nil {
			return b.Copy()
		}
	case *value.JsonArray:
		if b != nil {
			return b.Copy()
		}
	case *buffer.Buffer:
		if b != nil {
			return b.Copy()
		}
	}
	return body
}
