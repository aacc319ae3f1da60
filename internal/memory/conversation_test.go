package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

func userTurn(s string) models.Turn      { return models.Turn{Role: models.RoleUser, Content: s} }
func assistantTurn(s string) models.Turn { return models.Turn{Role: models.RoleAssistant, Content: s} }

func TestConversation_Empty(t *testing.T) {
	c := NewConversation(5)
	assert.Empty(t, c.RecentWindow())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 10, c.MaxTurns())
}

func TestConversation_KeepsOrder(t *testing.T) {
	c := NewConversation(5)
	c.Append(userTurn("q1"))
	c.Append(assistantTurn("a1"))
	c.Append(userTurn("q2"))

	assert.Equal(t, []models.Turn{userTurn("q1"), assistantTurn("a1"), userTurn("q2")}, c.RecentWindow())
}

func TestConversation_EvictsOldestFirst(t *testing.T) {
	c := NewConversation(2)
	for i := 1; i <= 7; i++ {
		c.Append(userTurn(fmt.Sprintf("t%d", i)))
		assert.LessOrEqual(t, c.Len(), 4)
	}

	window := c.RecentWindow()
	require.Len(t, window, 4)
	assert.Equal(t, "t4", window[0].Content)
	assert.Equal(t, "t7", window[3].Content)
}

func TestConversation_BoundHoldsForAnyNumberOfAppends(t *testing.T) {
	for _, maxHistory := range []int{1, 2, 5, 10} {
		c := NewConversation(maxHistory)
		for i := 0; i < 100; i++ {
			c.Append(userTurn(fmt.Sprintf("q%d", i)))
			c.Append(assistantTurn(fmt.Sprintf("a%d", i)))
			require.LessOrEqual(t, c.Len(), 2*maxHistory)
		}
		window := c.RecentWindow()
		assert.Equal(t, fmt.Sprintf("q%d", 100-maxHistory), window[0].Content)
		assert.Equal(t, "a99", window[len(window)-1].Content)
	}
}

func TestConversation_WindowIsACopy(t *testing.T) {
	c := NewConversation(2)
	c.Append(userTurn("original"))

	window := c.RecentWindow()
	window[0].Content = "changed"

	assert.Equal(t, "original", c.RecentWindow()[0].Content)
}

func TestConversation_NonPositiveHistoryUsesDefault(t *testing.T) {
	assert.Equal(t, 10, NewConversation(0).MaxTurns())
	assert.Equal(t, 10, NewConversation(-3).MaxTurns())
}

func TestConversation_ConcurrentAppends(t *testing.T) {
	c := NewConversation(50)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Append(userTurn(fmt.Sprintf("q%d", i)))
		}(i)
	}
	wg.Wait()

	window := c.RecentWindow()
	assert.Len(t, window, 100)
	seen := make(map[string]bool)
	for _, turn := range window {
		assert.False(t, seen[turn.Content], "duplicate turn %s", turn.Content)
		seen[turn.Content] = true
	}
}

func TestRegistry_Shared(t *testing.T) {
	r := NewRegistry(3, false, time.Minute)

	a := r.Get("alice")
	b := r.Get("bob")
	assert.Same(t, a, b)
	assert.Same(t, a, r.Get(""))
	assert.False(t, r.Scoped())
	assert.Equal(t, 1, r.Sessions())
}

func TestRegistry_Scoped(t *testing.T) {
	r := NewRegistry(3, true, time.Minute)

	a := r.Get("alice")
	b := r.Get("bob")
	require.NotSame(t, a, b)
	assert.Same(t, a, r.Get("alice"))
	assert.Same(t, r.Get(""), r.Get(DefaultSession))

	a.Append(userTurn("private"))
	assert.Empty(t, b.RecentWindow())
	assert.Equal(t, 6, a.MaxTurns())
	assert.Equal(t, 3, r.Sessions())
}

func TestRegistry_ScopedExpiry(t *testing.T) {
	r := NewRegistry(3, true, 20*time.Millisecond)

	first := r.Get("alice")
	first.Append(userTurn("hello"))
	time.Sleep(60 * time.Millisecond)

	second := r.Get("alice")
	assert.NotSame(t, first, second)
	assert.Empty(t, second.RecentWindow())
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry(3, true, time.Minute)

	var wg sync.WaitGroup
	convs := make([]*Conversation, 20)
	for i := range convs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			convs[i] = r.Get("shared-id")
		}(i)
	}
	wg.Wait()

	for _, c := range convs[1:] {
		assert.Same(t, convs[0], c)
	}
}
