// Package cli formats iris results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/iris/internal/assistant"
	"github.com/hyperjump/iris/internal/vector"
	"github.com/hyperjump/iris/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDescribe writes a describe answer with a short feature summary.
func WriteDescribe(w io.Writer, res *assistant.DescribeResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "Model: %s | %dms", res.Model, res.LatencyMS)
	if res.Tier != "" {
		fmt.Fprintf(w, " | %s", res.Tier)
	}
	fmt.Fprintln(w)
	if res.Degraded {
		fmt.Fprintln(w, "(degraded answer)")
	}
	fmt.Fprintf(w, "\n%s\n\n", res.Text)
	if res.Features.Caption != "" {
		fmt.Fprintf(w, "Caption: %s\n", res.Features.Caption)
	}
	if len(res.Features.Objects) > 0 {
		fmt.Fprintf(w, "Objects: %s\n", TruncateWords(strings.Join(res.Features.Objects, ", "), 12))
	}
	if res.Features.OCRText != "" {
		fmt.Fprintf(w, "OCR:     %s\n", utils.Truncate(res.Features.OCRText, 80))
	}
	return nil
}

// WriteMatches writes similarity search hits, nearest first.
func WriteMatches(w io.Writer, results []vector.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No similar images found")
		return nil
	}
	for i, r := range results {
		name, _ := r.Metadata["filename"].(string)
		caption, _ := r.Metadata["caption"].(string)
		fmt.Fprintf(w, "%2d. %-32s distance %.4f\n", i+1, name, r.Distance)
		if caption != "" {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(caption, 100))
		}
	}
	return nil
}

// Status mirrors the server's /status response.
type Status struct {
	Extractions     int            `json:"extractions"`
	VectorIndexSize int            `json:"vector_index_size"`
	Sessions        int            `json:"sessions"`
	DiskUsageBytes  *int64         `json:"disk_usage_bytes,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

// WriteStatus writes server status.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "extractions:        %d   # ledger entries\n", s.Extractions)
	fmt.Fprintf(w, "vector_index_size:  %d   # embeddings in the similarity index\n", s.VectorIndexSize)
	fmt.Fprintf(w, "sessions:           %d   # live reasoning sessions\n", s.Sessions)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # ledger, indices and uploads on disk\n", *s.DiskUsageBytes)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := s.Config[k]; v != nil && v != "" {
				fmt.Fprintf(w, "%-19s %v\n", k+":", v)
			}
		}
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
