package models

import (
	"fmt"
	"strings"
)

// ReasonQuery is a multi-turn reasoning request. Either SessionID or ImagePath
// must be set; the prompt is always required.
type ReasonQuery struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	ImagePath string `json:"-"`
	ImageName string `json:"-"`
	RequestID string `json:"-"`
}

// Validate trims the query fields and reports missing input as ErrValidation.
func (q *ReasonQuery) Validate() error {
	q.SessionID = strings.TrimSpace(q.SessionID)
	q.Prompt = strings.TrimSpace(q.Prompt)
	q.Model = strings.TrimSpace(q.Model)
	if q.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if q.SessionID == "" && q.ImagePath == "" {
		return fmt.Errorf("%w: upload an image to start this conversation", ErrValidation)
	}
	return nil
}

// DescribeQuery is a one-shot describe request for a single uploaded image.
type DescribeQuery struct {
	Prompt    string `json:"prompt,omitempty"`
	Model     string `json:"model,omitempty"`
	ImagePath string `json:"-"`
	ImageName string `json:"-"`
	RequestID string `json:"-"`
}

// Validate trims the query fields and requires an image.
func (q *DescribeQuery) Validate() error {
	q.Prompt = strings.TrimSpace(q.Prompt)
	q.Model = strings.TrimSpace(q.Model)
	if q.ImagePath == "" {
		return fmt.Errorf("%w: missing image file", ErrValidation)
	}
	return nil
}
