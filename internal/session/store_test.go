package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/iris/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances one second per call so every mutation gets a distinct time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestStore_CreateGet(t *testing.T) {
	s := NewStore(10, 30, WithClock(newFakeClock().Now))
	features := models.FeatureRecord{Caption: "a cat", Objects: []string{"cat"}}
	id := s.Create(features, "cat.jpg", "/uploads/cat.jpg", "qwen3-vl:8b")

	sess, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, "cat.jpg", sess.ImageName)
	assert.Equal(t, "qwen3-vl:8b", sess.Model)
	assert.Empty(t, sess.History)
	assert.Equal(t, sess.CreatedAt, sess.UpdatedAt)
	assert.Equal(t, "a cat", sess.Features.Caption)

	sess.Features.Objects[0] = "dog"
	again, _ := s.Get(id)
	assert.Equal(t, "cat", again.Features.Objects[0], "Get must return a snapshot")
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore(10, 30)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.AppendTurn("missing", "u", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.SetModel("missing", "m"), models.ErrNotFound)
}

func TestStore_EvictsLeastRecentlyActive(t *testing.T) {
	s := NewStore(2, 30, WithClock(newFakeClock().Now))
	first := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	second := s.Create(models.FeatureRecord{}, "b.jpg", "", "m")

	// first was created earlier but is now the most recently active.
	_, err := s.AppendTurn(first, "hello", "hi")
	require.NoError(t, err)

	third := s.Create(models.FeatureRecord{}, "c.jpg", "", "m")
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(second)
	assert.ErrorIs(t, err, models.ErrNotFound, "oldest activity should be evicted")
	_, err = s.Get(first)
	assert.NoError(t, err)
	_, err = s.Get(third)
	assert.NoError(t, err)
}

func TestStore_EvictsOldestCreatedWithoutActivity(t *testing.T) {
	s := NewStore(2, 30, WithClock(newFakeClock().Now))
	first := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	s.Create(models.FeatureRecord{}, "b.jpg", "", "m")
	s.Create(models.FeatureRecord{}, "c.jpg", "", "m")
	_, err := s.Get(first)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_HistoryTrimmed(t *testing.T) {
	s := NewStore(5, 30, WithClock(newFakeClock().Now))
	id := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	for i := 1; i <= 45; i++ {
		turn, err := s.AppendTurn(id, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, turn)
	}
	sess, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, sess.History, 30)
	assert.Equal(t, "q16", sess.History[0].User)
	assert.Equal(t, "q45", sess.History[29].User)
	for i := 1; i < len(sess.History); i++ {
		assert.True(t, sess.History[i-1].Timestamp.Before(sess.History[i].Timestamp))
	}
	assert.Equal(t, 45, sess.TurnCount)
}

func TestStore_RecentTurns(t *testing.T) {
	s := NewStore(5, 30)
	id := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	for i := 1; i <= 10; i++ {
		_, _ = s.AppendTurn(id, fmt.Sprintf("q%d", i), "a")
	}
	turns, err := s.RecentTurns(id, 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q8", turns[0].User)
	assert.Equal(t, "q10", turns[2].User)

	turns, _ = s.RecentTurns(id, 50)
	assert.Len(t, turns, 10)
	turns, _ = s.RecentTurns(id, 0)
	assert.Empty(t, turns)
}

func TestStore_EndIdempotent(t *testing.T) {
	s := NewStore(5, 30)
	id := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	assert.True(t, s.End(id))
	assert.False(t, s.End(id))
	assert.Equal(t, 0, s.Len())
}

func TestStore_SetModelTouchesActivity(t *testing.T) {
	s := NewStore(2, 30, WithClock(newFakeClock().Now))
	first := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	second := s.Create(models.FeatureRecord{}, "b.jpg", "", "m")
	require.NoError(t, s.SetModel(first, "llava"))
	s.Create(models.FeatureRecord{}, "c.jpg", "", "m")

	sess, err := s.Get(first)
	require.NoError(t, err)
	assert.Equal(t, "llava", sess.Model)
	_, err = s.Get(second)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_ListAndTitle(t *testing.T) {
	s := NewStore(5, 30, WithClock(newFakeClock().Now))
	a := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	b := s.Create(models.FeatureRecord{}, "b.jpg", "", "m")
	_, _ = s.AppendTurn(a, "what color is the car parked next to the red house on the left", "blue")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, "what color is the car parked next to", list[0].Title)
	assert.Equal(t, b, list[1].ID)
	assert.Equal(t, "New Chat", list[1].Title)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := NewStore(50, 1000)
	id := s.Create(models.FeatureRecord{}, "a.jpg", "", "m")
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = s.AppendTurn(id, "q", "a")
				s.Create(models.FeatureRecord{}, "x.jpg", "", "m")
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 50)
	// The session may have been evicted by the concurrent creates.
	sess, err := s.Get(id)
	if err == nil {
		assert.Equal(t, 200, sess.TurnCount)
	}
}

func TestWindow(t *testing.T) {
	h := []models.ConversationTurn{{User: "1"}, {User: "2"}, {User: "3"}}
	w := Window(h, 2)
	require.Len(t, w, 2)
	assert.Equal(t, "2", w[0].User)
	w[0].User = "x"
	assert.Equal(t, "2", h[1].User)
	assert.Empty(t, Window(nil, 3))
}
