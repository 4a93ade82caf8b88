// Package chat owns the per-response stream aggregation and the session
// manager that ties routing, dispatch, and persistence together.
package chat

import (
	"context"
	"errors"

	"github.com/conduit-ai/conduit/internal/llm"
	"github.com/conduit-ai/conduit/pkg/types"
)

// State is the lifecycle of one in-flight response.
type State int

const (
	StatePending State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// emptyResponseNotice replaces accumulated content when a stream terminates
// cleanly without producing any text. A message is never finalized empty.
const emptyResponseNotice = "The model returned an empty response. Please try again."

// cancelledNotice is shown when the caller disconnected mid-stream.
const cancelledNotice = "Response cancelled."

// Aggregator mutates one placeholder message through the
// Pending -> Streaming -> {Completed | Failed} state machine. Observers are
// notified synchronously after every mutation. Not safe for concurrent use;
// one goroutine drives each aggregator.
type Aggregator struct {
	msg    *types.Message
	state  State
	notify func(types.Message)
}

// NewAggregator wraps a placeholder message. The message must start with
// loading=true and empty content.
func NewAggregator(msg *types.Message, notify func(types.Message)) *Aggregator {
	if notify == nil {
		notify = func(types.Message) {}
	}
	return &Aggregator{msg: msg, notify: notify}
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return a.state
}

// Message returns a snapshot of the message being built.
func (a *Aggregator) Message() types.Message {
	return *a.msg
}

// Delta appends one text fragment. No-op after a terminal state.
func (a *Aggregator) Delta(text string) {
	if a.state.Terminal() {
		return
	}
	a.state = StateStreaming
	a.msg.Content += text
	a.notify(*a.msg)
}

// Complete finalizes the message. Accumulated content is kept as-is unless
// empty, in which case the fallback notice takes its place.
func (a *Aggregator) Complete(usage *types.Usage) {
	if a.state.Terminal() {
		return
	}
	a.state = StateCompleted
	if a.msg.Content == "" {
		a.msg.Content = emptyResponseNotice
	}
	a.msg.Usage = usage
	a.msg.Loading = false
	a.notify(*a.msg)
}

// Fail finalizes the message as an error. Content already streamed is
// retained, with the caller-facing failure text appended.
func (a *Aggregator) Fail(err error) {
	if a.state.Terminal() {
		return
	}
	a.state = StateFailed
	a.msg.Role = types.RoleError
	a.msg.Loading = false

	text := failureText(err)
	if a.msg.Content != "" {
		a.msg.Content += "\n\n" + text
	} else {
		a.msg.Content = text
	}
	a.notify(*a.msg)
}

// failureText maps a failure onto the caller-displayable message.
func failureText(err error) string {
	if errors.Is(err, context.Canceled) {
		return cancelledNotice
	}
	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		return provErr.UserMessage()
	}
	return "The response was interrupted. Please try again or try a different model."
}

// Consume drives the aggregator from a provider event stream until a terminal
// state. A closed channel with no usage and no error counts as clean
// completion; ctx cancellation fails the message with a cancelled notice.
func (a *Aggregator) Consume(ctx context.Context, events <-chan llm.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			a.Fail(ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				if a.state.Terminal() {
					return
				}
				// The producer closes the channel on cancellation too, and
				// the select may take this branch first.
				if err := ctx.Err(); err != nil {
					a.Fail(err)
					return
				}
				a.Complete(nil)
				return
			}
			switch {
			case ev.Err != nil:
				a.Fail(ev.Err)
				return
			case ev.Usage != nil:
				a.Complete(ev.Usage)
				return
			default:
				a.Delta(ev.Delta)
			}
		}
	}
}
