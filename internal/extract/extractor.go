// Package extract is the client side of the feature extraction service: it turns an
// image file into a models.FeatureRecord.
package extract

import (
	"context"
	"time"

	"github.com/hyperjump/iris/internal/models"
)

// Extraction is the service output for one image.
type Extraction struct {
	Features models.FeatureRecord
	// ExtractedAt is the service-reported time, zero when absent.
	ExtractedAt time.Time
}

// Extractor produces features for the image at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}
