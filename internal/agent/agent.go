// Package agent defines the contract with the external conversational
// agent that answers natural-language database questions.
//
// The service does not implement the agent. It sends a question, consumes
// the resulting event stream, and reconstructs structure (answer text, SQL,
// charts) from whatever the agent chose to emit. Events are deliberately
// loosely typed: different agent builds attach their payloads in different
// places, and the extraction layer probes the known locations in order.
package agent

import "context"

// Agent produces an event stream for a question.
//
// The returned channel is closed when the stream ends. Implementations must
// stop producing and close the channel when ctx is cancelled. A terminal
// stream failure is delivered as a final Event with Err set.
type Agent interface {
	Stream(ctx context.Context, question string) (<-chan Event, error)
}
