package agent

import (
	"context"
	"strings"
	"time"
)

// ScriptFunc produces the event script for a question.
type ScriptFunc func(question string) []Event

// Scripted is an Agent that replays a scripted event sequence. It backs
// simulation mode when no real agent is configured and doubles as the test
// agent.
type Scripted struct {
	script ScriptFunc
	delay  time.Duration
}

// Option configures a Scripted agent.
type Option func(*Scripted)

// WithDelay inserts a pause between scripted events to approximate
// streaming latency.
func WithDelay(d time.Duration) Option {
	return func(s *Scripted) {
		s.delay = d
	}
}

// NewScripted creates a scripted agent. A nil script falls back to the
// default simulation script.
func NewScripted(script ScriptFunc, opts ...Option) *Scripted {
	if script == nil {
		script = SimulationScript
	}
	s := &Scripted{script: script}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream replays the script for the question on a fresh channel.
func (s *Scripted) Stream(ctx context.Context, question string) (<-chan Event, error) {
	events := s.script(question)
	out := make(chan Event)

	go func() {
		defer close(out)
		for _, ev := range events {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SimulationScript is the default script used when the service runs without
// a real agent. It streams a canned answer in a few chunks so transports
// and the side-effect pipeline can be exercised end to end.
func SimulationScript(question string) []Event {
	answer := "I am running in simulation mode and cannot reach a language model. " +
		"Your question was: " + strings.TrimSpace(question)

	var events []Event
	words := strings.Fields(answer)
	for i := 0; i < len(words); i += 6 {
		end := min(i+6, len(words))
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		events = append(events, Event{Delta: chunk})
	}
	return events
}
