// Package session keeps multi-turn reasoning sessions in a capacity-bounded table.
package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/iris/internal/models"
)

const defaultTitle = "New Chat"

// Summary is the listing view of a session.
type Summary struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	ImageName string    `json:"image_name"`
	Model     string    `json:"model"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds sessions keyed by id. When more than maxSessions exist after a
// Create, the least recently active sessions are evicted.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*models.Session
	maxSessions int
	maxHistory  int
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and eviction order.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store holding at most maxSessions sessions, each keeping
// at most maxHistory turns. Non-positive limits fall back to 1.
func NewStore(maxSessions, maxHistory int, opts ...Option) *Store {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	if maxHistory <= 0 {
		maxHistory = 1
	}
	s := &Store{
		sessions:    make(map[string]*models.Session),
		maxSessions: maxSessions,
		maxHistory:  maxHistory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new session with empty history and returns its id.
func (s *Store) Create(features models.FeatureRecord, imageName, imagePath, model string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	id := uuid.New().String()
	s.sessions[id] = &models.Session{
		ID:        id,
		Title:     defaultTitle,
		ImageName: imageName,
		ImagePath: imagePath,
		Features:  features.Clone(),
		History:   make([]models.ConversationTurn, 0),
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.evictLocked()
	return id
}

// evictLocked drops sessions with the oldest UpdatedAt until the store is within capacity.
func (s *Store) evictLocked() {
	for len(s.sessions) > s.maxSessions {
		var oldest *models.Session
		for _, sess := range s.sessions {
			if oldest == nil || olderActivity(sess, oldest) {
				oldest = sess
			}
		}
		delete(s.sessions, oldest.ID)
	}
}

func olderActivity(a, b *models.Session) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sess.Clone(), nil
}

// AppendTurn records a user/assistant exchange, trims history to the stored maximum
// and returns the 1-based index of the new turn.
func (s *Store) AppendTurn(id, user, assistant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, notFound(id)
	}
	now := s.now()
	sess.History = append(sess.History, models.ConversationTurn{User: user, Assistant: assistant, Timestamp: now})
	if over := len(sess.History) - s.maxHistory; over > 0 {
		sess.History = append([]models.ConversationTurn(nil), sess.History[over:]...)
	}
	sess.TurnCount++
	if sess.TurnCount == 1 {
		sess.Title = suggestTitle(user)
	}
	sess.UpdatedAt = now
	return sess.TurnCount, nil
}

// SetModel changes the model used for later turns.
func (s *Store) SetModel(id, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return notFound(id)
	}
	sess.Model = model
	sess.UpdatedAt = s.now()
	return nil
}

// RecentTurns returns up to the last n turns of the session, oldest first.
func (s *Store) RecentTurns(id string, n int) ([]models.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return Window(sess.History, n), nil
}

// End removes the session and reports whether it existed.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// List returns summaries ordered by most recent activity.
func (s *Store) List() []Summary {
	s.mu.Lock()
	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			ID:        sess.ID,
			Title:     sess.Title,
			ImageName: sess.ImageName,
			Model:     sess.Model,
			TurnCount: sess.TurnCount,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Window returns a copy of the last n turns of history.
func Window(history []models.ConversationTurn, n int) []models.ConversationTurn {
	if n <= 0 || len(history) == 0 {
		return []models.ConversationTurn{}
	}
	if n > len(history) {
		n = len(history)
	}
	return append([]models.ConversationTurn(nil), history[len(history)-n:]...)
}

// suggestTitle builds a short title from the first prompt: first 8 words, at most 60 bytes.
func suggestTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return defaultTitle
	}
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 60 {
		title = strings.TrimSpace(strings.ToValidUTF8(title[:60], ""))
	}
	return title
}

func notFound(id string) error {
	return fmt.Errorf("%w: session %s", models.ErrNotFound, id)
}
