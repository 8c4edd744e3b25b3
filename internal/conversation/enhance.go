package conversation

import (
	"strings"
)

// Enhancement tuning. Small on purpose: the enhanced question is fed to a
// language model and context beyond a few turns dilutes the actual question.
const (
	contextTurns    = 3
	previewLength   = 100
	maxKeywords     = 5
	relevantTurns   = 2
	minKeywordLen   = 3
	relevantFetched = relevantTurns + contextTurns
)

// stopWords are excluded from keyword extraction. Mostly English function
// words plus the query verbs nearly every question contains.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"been": {}, "have": {}, "has": {}, "had": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "would": {}, "should": {}, "will": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
	"how": {}, "when": {}, "where": {}, "why": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"with": {}, "from": {}, "into": {}, "onto": {}, "about": {},
	"all": {}, "any": {}, "each": {}, "per": {},
	"show": {}, "give": {}, "get": {}, "list": {}, "find": {},
	"please": {}, "you": {}, "your": {}, "our": {}, "their": {},
}

// Enhancer augments an incoming question with conversation context so the
// agent sees the scope's recent history alongside the current question.
type Enhancer struct {
	store *Store
}

// NewEnhancer creates an enhancer reading from the given store.
func NewEnhancer(store *Store) *Enhancer {
	return &Enhancer{store: store}
}

// Enhance returns the question augmented with recent and keyword-relevant
// history from the scope. When the scope has no history, the question is
// returned unchanged.
func (e *Enhancer) Enhance(user, conversation, question string) string {
	key := Normalize(user, conversation)

	recent := e.store.RecentTurns(key.User, key.Conversation, contextTurns)
	if len(recent) == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	// RecentTurns is newest first; present chronologically.
	for i := len(recent) - 1; i >= 0; i-- {
		writeTurn(&b, recent[i])
	}

	keywords := ExtractKeywords(question)
	if related := e.relatedTurns(key, keywords, recent); len(related) > 0 {
		b.WriteString("\nRelated previous queries:\n")
		for _, turn := range related {
			writeTurn(&b, turn)
		}
	}

	b.WriteString("\n\nCurrent question: ")
	b.WriteString(question)
	return b.String()
}

// relatedTurns finds up to relevantTurns keyword matches outside the turns
// already shown as recent context.
func (e *Enhancer) relatedTurns(key Key, keywords []string, recent []Turn) []Turn {
	if len(keywords) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(recent))
	for _, turn := range recent {
		seen[turn.Timestamp.String()+turn.Question] = struct{}{}
	}

	candidates := e.store.FilteredTurns(key.User, key.Conversation, keywords, nil, relevantFetched)

	var out []Turn
	for _, turn := range candidates {
		if _, dup := seen[turn.Timestamp.String()+turn.Question]; dup {
			continue
		}
		out = append(out, turn)
		if len(out) == relevantTurns {
			break
		}
	}
	return out
}

func writeTurn(b *strings.Builder, turn Turn) {
	b.WriteString("Q: ")
	b.WriteString(turn.Question)
	b.WriteString("\nA: ")
	b.WriteString(preview(turn.Response))
	b.WriteString("\n")
}

// preview truncates a response to previewLength characters for the context
// block. Counting is by rune so multibyte text is not cut mid-character.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLength {
		return s
	}
	return string(runes[:previewLength]) + "..."
}

// ExtractKeywords pulls up to maxKeywords lowercase content words from a
// question: whitespace-split tokens stripped of punctuation, at least
// minKeywordLen characters, stop words excluded, first occurrence order.
func ExtractKeywords(question string) []string {
	fields := strings.Fields(strings.ToLower(question))

	var keywords []string
	seen := make(map[string]struct{})
	for _, field := range fields {
		word := strings.Trim(field, ".,;:!?'\"()[]{}")
		if len(word) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
