package models

import (
	"errors"
	"time"
)

var (
	// ErrValidation marks missing or malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown session or ledger entry id.
	ErrNotFound = errors.New("not found")
)

// ConversationTurn is one user/assistant exchange. Immutable once appended.
type ConversationTurn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a multi-turn conversation anchored to one image and its features.
type Session struct {
	ID        string             `json:"session_id"`
	Title     string             `json:"title"`
	ImageName string             `json:"image_name"`
	ImagePath string             `json:"image_path"`
	Features  FeatureRecord      `json:"features"`
	History   []ConversationTurn `json:"history"`
	Model     string             `json:"model"`
	TurnCount int                `json:"turn_count"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Features = s.Features.Clone()
	out.History = cloneSlice(s.History)
	return &out
}
