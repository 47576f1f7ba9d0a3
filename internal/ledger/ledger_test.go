package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/iris/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(context.Background(), opts...)
	require.NoError(t, err)
	return l
}

func TestLedger_ListIsNewestFirst(t *testing.T) {
	l := newLedger(t)
	f1 := l.Append(AppendInput{Features: models.FeatureRecord{Caption: "first"}, ImageName: "a.jpg"})
	f2 := l.Append(AppendInput{Features: models.FeatureRecord{Caption: "second"}, ImageName: "b.jpg"})

	list := l.List()
	require.Len(t, list, 2)
	assert.Equal(t, f2.ID, list[0].ID)
	assert.Equal(t, f1.ID, list[1].ID)

	assert.True(t, l.Delete(f2.ID))
	list = l.List()
	require.Len(t, list, 1)
	assert.Equal(t, f1.ID, list[0].ID)
}

func TestLedger_DeleteUnknown(t *testing.T) {
	l := newLedger(t)
	e := l.Append(AppendInput{ImageName: "a.jpg"})
	assert.False(t, l.Delete("does-not-exist"))
	assert.Equal(t, 1, l.Len())

	assert.True(t, l.Delete(e.ID))
	assert.False(t, l.Delete(e.ID), "second delete reports not found")
}

func TestLedger_AppendNormalizes(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l := newLedger(t, WithClock(func() time.Time { return fixed }))
	e := l.Append(AppendInput{
		Features: models.FeatureRecord{
			Caption: "  a red car  ",
			Objects: []string{"car", "  "},
		},
		ImageName: "car.png",
		ImagePath: "/uploads/car.png",
		Source:    "upload",
	})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "a red car", e.Caption)
	assert.Equal(t, []string{"car"}, e.Objects)
	assert.Equal(t, fixed, e.Timestamp)
	assert.Equal(t, "upload", e.Source)
	assert.Equal(t, "/uploads/car.png", e.ImagePath)

	supplied := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	e2 := l.Append(AppendInput{ExtractedAt: supplied})
	assert.Equal(t, supplied, e2.Timestamp)
	assert.Equal(t, "unknown", e2.Source)
}

func TestLedger_ReturnsDefensiveCopies(t *testing.T) {
	l := newLedger(t)
	e := l.Append(AppendInput{Features: models.FeatureRecord{Objects: []string{"dog"}}})
	e.Objects[0] = "mutated"

	list := l.List()
	list[0].Objects[0] = "mutated again"
	list[0].Caption = "changed"

	got, ok := l.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"dog"}, got.Objects)
	assert.Empty(t, got.Caption)
}

func TestLedger_IDsUnique(t *testing.T) {
	l := newLedger(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := l.Append(AppendInput{})
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
	}
}

func TestLedger_ConcurrentAccess(t *testing.T) {
	l := newLedger(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				e := l.Append(AppendInput{ImageName: fmt.Sprintf("%d-%d", w, i)})
				_ = l.List()
				if i%5 == 0 {
					l.Delete(e.ID)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 8*20, l.Len())
}

type memPersister struct {
	mu      sync.Mutex
	entries []*models.ExtractionEntry
}

func (m *memPersister) SaveEntry(_ context.Context, e *models.ExtractionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := e.Clone()
	m.entries = append(m.entries, &c)
	return nil
}

func (m *memPersister) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memPersister) ListEntries(context.Context) ([]*models.ExtractionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ExtractionEntry(nil), m.entries...), nil
}

func TestLedger_PersisterRoundTrip(t *testing.T) {
	p := &memPersister{}
	l := newLedger(t, WithPersister(p))
	a := l.Append(AppendInput{ImageName: "a.jpg"})
	b := l.Append(AppendInput{ImageName: "b.jpg"})
	c := l.Append(AppendInput{ImageName: "c.jpg"})
	l.Delete(b.ID)

	reloaded := newLedger(t, WithPersister(p))
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

// slowPersister blocks SaveEntry until release is closed.
type slowPersister struct {
	memPersister
	saving  chan struct{}
	release chan struct{}
}

func (s *slowPersister) SaveEntry(ctx context.Context, e *models.ExtractionEntry) error {
	s.saving <- struct{}{}
	<-s.release
	return s.memPersister.SaveEntry(ctx, e)
}

func TestLedger_DeleteDuringPersistLeavesNoRow(t *testing.T) {
	p := &slowPersister{saving: make(chan struct{}, 1), release: make(chan struct{})}
	l := newLedger(t, WithPersister(p))

	appended := make(chan models.ExtractionEntry, 1)
	go func() { appended <- l.Append(AppendInput{ImageName: "a.jpg"}) }()
	<-p.saving

	list := l.List()
	require.Len(t, list, 1)
	deleted := make(chan bool, 1)
	go func() { deleted <- l.Delete(list[0].ID) }()

	select {
	case <-deleted:
		t.Fatal("delete finished while the append was still being persisted")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	<-appended
	assert.True(t, <-deleted)
	assert.Equal(t, 0, l.Len())

	stored, err := p.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}
