package memory

import (
	"sync"

	"document-qa/internal/models"
)

const defaultMaxHistory = 5

// Conversation is a bounded FIFO log of turns. It keeps at most 2*maxHistory
// turns, one user and one assistant turn per remembered exchange; older turns
// are dropped from the front and cannot be recovered.
type Conversation struct {
	mu         sync.Mutex
	turns      []models.Turn
	maxHistory int
}

func NewConversation(maxHistory int) *Conversation {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Conversation{
		turns:      make([]models.Turn, 0, 2*maxHistory+1),
		maxHistory: maxHistory,
	}
}

// Append adds a turn, evicting the oldest turns once capacity is exceeded.
func (c *Conversation) Append(turn models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turn)
	for len(c.turns) > c.capacity() {
		c.turns[0] = models.Turn{}
		c.turns = c.turns[1:]
	}
}

// RecentWindow returns a copy of the retained turns, oldest first.
func (c *Conversation) RecentWindow() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// MaxTurns is the capacity of the conversation in turns.
func (c *Conversation) MaxTurns() int {
	return c.capacity()
}

func (c *Conversation) capacity() int {
	return 2 * c.maxHistory
}
