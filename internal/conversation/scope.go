package conversation

import "strings"

// Sentinel scope values substituted for missing identity inputs. Requests
// without identification share one well-known scope instead of failing.
const (
	AnonymousUser       = "anonymous"
	DefaultConversation = "default"
)

// Key identifies one conversation scope: the pair of a user and one of
// their conversations. Keys are always normalized; construct them with
// Normalize.
type Key struct {
	User         string `json:"user"`
	Conversation string `json:"conversation"`
}

// Normalize builds a scope key from raw identity inputs. Surrounding
// whitespace is stripped and empty values fall back to the sentinels, so
// ("", "") and ("anonymous", "default") address the same scope.
func Normalize(user, conversation string) Key {
	user = strings.TrimSpace(user)
	if user == "" {
		user = AnonymousUser
	}
	conversation = strings.TrimSpace(conversation)
	if conversation == "" {
		conversation = DefaultConversation
	}
	return Key{User: user, Conversation: conversation}
}

// id returns the snapshot map key for this scope.
func (k Key) id() string {
	return k.User + ":" + k.Conversation
}
