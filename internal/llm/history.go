package llm

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Exchange is one completed (utterance, reply) pair.
type Exchange struct {
	Utterance string
	Reply     string
}

// History is a bounded log of recent exchanges. When full, the oldest
// exchange is dropped. It is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	max   int
	items []Exchange
}

// NewHistory returns a History keeping at most max exchanges. A max below 1
// keeps a single exchange.
func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

// Add appends an exchange, evicting the oldest one when full.
func (h *History) Add(utterance, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append(h.items, Exchange{Utterance: utterance, Reply: reply})
	if over := len(h.items) - h.max; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Snapshot returns a copy of the exchanges, oldest first.
func (h *History) Snapshot() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Exchange, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *History) Clear() {
	h.mu.Lock()
	h.items = nil
	h.mu.Unlock()
}

// sentenceEnds are the marks a reply may be cut after.
const sentenceEnds = "。！？.!?\n"

// CapReply shortens text to at most max runes. It cuts after the last
// sentence mark inside the limit when there is one, and at the limit
// otherwise. A max below 1 disables the cap.
func CapReply(text string, max int) string {
	text = strings.TrimSpace(text)
	if max < 1 || utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)[:max]
	for i := len(runes) - 1; i > 0; i-- {
		if strings.ContainsRune(sentenceEnds, runes[i]) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return string(runes)
}
