package conversation

import "time"

// Turn is one completed question/response exchange. Turns are immutable
// once appended to the store.
type Turn struct {
	User         string         `json:"user"`
	Conversation string         `json:"conversation"`
	Username     string         `json:"username,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Question     string         `json:"question"`
	Response     string         `json:"response"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Scope returns the normalized scope key the turn belongs to.
func (t Turn) Scope() Key {
	return Normalize(t.User, t.Conversation)
}
