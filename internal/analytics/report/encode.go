package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Format is a report serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml"; "" means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", &models.ConfigError{Field: "format", Message: fmt.Sprintf("unsupported report format %q", s)}
}

// Encode writes v to w in the given format.
func Encode(w io.Writer, v any, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return &models.ConfigError{Field: "format", Message: fmt.Sprintf("unsupported report format %q", format)}
}

// Sink consumes finished reports.
type Sink interface {
	Publish(ctx context.Context, r *AnalysisReport) error
}

// WriterSink encodes every report it receives to W.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{w: w, format: format}
}

func (s *WriterSink) Publish(_ context.Context, r *AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Encode(s.w, r, s.format); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Discard is a Sink that drops every report.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Publish(context.Context, *AnalysisReport) error { return nil }

// MultiSink publishes to every sink in order. All sinks are attempted; the
// errors are joined. Persisting sinks come first so later sinks see the ID.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, r *AnalysisReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
