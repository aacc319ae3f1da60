package memory

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSession names the conversation used when no session id is supplied.
const DefaultSession = "default"

// Registry hands out the conversation belonging to a session.
//
// When unscoped, every caller shares a single conversation, which suits a
// single-user deployment. When scoped, each session id gets its own
// conversation, dropped after ttl without activity.
type Registry struct {
	mu         sync.Mutex
	scoped     bool
	maxHistory int
	ttl        time.Duration
	shared     *Conversation
	sessions   *cache.Cache
}

func NewRegistry(maxHistory int, scoped bool, ttl time.Duration) *Registry {
	r := &Registry{
		scoped:     scoped,
		maxHistory: maxHistory,
		ttl:        ttl,
	}
	if scoped {
		r.sessions = cache.New(ttl, ttl)
	} else {
		r.shared = NewConversation(maxHistory)
	}
	return r
}

// Get returns the conversation for sessionID, creating it on first use.
func (r *Registry) Get(sessionID string) *Conversation {
	if !r.scoped {
		return r.shared
	}
	if sessionID == "" {
		sessionID = DefaultSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.sessions.Get(sessionID); ok {
		conv := v.(*Conversation)
		r.sessions.SetDefault(sessionID, conv)
		return conv
	}
	conv := NewConversation(r.maxHistory)
	r.sessions.SetDefault(sessionID, conv)
	return conv
}

// Scoped reports whether conversations are kept per session.
func (r *Registry) Scoped() bool {
	return r.scoped
}

// Sessions is the number of live conversations.
func (r *Registry) Sessions() int {
	if !r.scoped {
		return 1
	}
	return r.sessions.ItemCount()
}
