package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasonQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *ReasonQuery
		wantErr bool
	}{
		{"empty prompt", &ReasonQuery{SessionID: "s"}, true},
		{"whitespace prompt", &ReasonQuery{SessionID: "s", Prompt: "   "}, true},
		{"no session and no image", &ReasonQuery{Prompt: "what is this?"}, true},
		{"session only", &ReasonQuery{SessionID: "s", Prompt: "and now?"}, false},
		{"image only", &ReasonQuery{ImagePath: "/tmp/a.jpg", Prompt: "hi"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDescribeQuery_Validate(t *testing.T) {
	q := &DescribeQuery{Prompt: "  hi  "}
	require.ErrorIs(t, q.Validate(), ErrValidation, "no image")
	q.ImagePath = "/tmp/a.jpg"
	require.NoError(t, q.Validate())
	assert.Equal(t, "hi", q.Prompt)
}
