// Package assistant implements the describe and multi-turn reasoning flows on top of
// the extraction client, the session store and the generation orchestrator.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/iris/internal/extract"
	"github.com/hyperjump/iris/internal/gateway"
	"github.com/hyperjump/iris/internal/generation"
	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/internal/runlog"
	"github.com/hyperjump/iris/internal/session"
	"go.uber.org/zap"
)

// DefaultDescribePrompt is used when a describe request carries no prompt.
const DefaultDescribePrompt = "Describe this image in detail."

const (
	eventDescribe = "describe"
	eventReason   = "reason"
)

// HealthChecker probes the generative endpoint.
type HealthChecker interface {
	Health(ctx context.Context, model string) (*gateway.HealthStatus, error)
}

// Options configures a Service.
type Options struct {
	DefaultModel  string
	HistoryWindow int
}

// Service runs describe and reason requests. It is safe for concurrent use.
type Service struct {
	extractor    extract.Extractor
	orchestrator *generation.Orchestrator
	sessions     *session.Store
	health       HealthChecker
	runs         *runlog.Logger
	opts         Options
	logger       *zap.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRunLog sets the audit log.
func WithRunLog(r *runlog.Logger) Option {
	return func(s *Service) { s.runs = r }
}

// WithHealthChecker enables Health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Service) { s.health = h }
}

// New creates a Service.
func New(extractor extract.Extractor, orchestrator *generation.Orchestrator, sessions *session.Store, opts Options, options ...Option) *Service {
	s := &Service{
		extractor:    extractor,
		orchestrator: orchestrator,
		sessions:     sessions,
		runs:         runlog.Nop(),
		opts:         opts,
		logger:       zap.NewNop(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Answer is the common part of describe and reason responses.
type Answer struct {
	Text      string        `json:"text"`
	Model     string        `json:"model"`
	RequestID string        `json:"request_id"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	Degraded  bool          `json:"degraded"`
	Intent    string        `json:"intent,omitempty"`
	Tier      string        `json:"tier,omitempty"`
}

// DescribeResult is the outcome of a one-shot describe.
type DescribeResult struct {
	Answer
	Features models.FeatureRecord `json:"features"`
}

// ReasonResult is the outcome of one reasoning turn.
type ReasonResult struct {
	Answer
	SessionID  string `json:"session_id"`
	Turn       int    `json:"turn"`
	NewSession bool   `json:"new_session"`
}

// Describe extracts features for one image and answers a single prompt about it.
// When extraction succeeded but generation failed, the result carries the features
// alongside the error.
func (s *Service) Describe(ctx context.Context, q models.DescribeQuery) (*DescribeResult, error) {
	start := time.Now()
	if q.RequestID == "" {
		q.RequestID = uuid.New().String()
	}
	res := &DescribeResult{}
	res.RequestID = q.RequestID

	if err := q.Validate(); err != nil {
		s.audit(eventDescribe, "", q.ImageName, 0, &res.Answer, start, err)
		return nil, err
	}
	res.Model = s.model(q.Model, "")
	prompt := q.Prompt
	if prompt == "" {
		prompt = DefaultDescribePrompt
	}

	ex, err := s.extractor.Extract(ctx, q.ImagePath)
	if err != nil {
		err = fmt.Errorf("extract features: %w", err)
		s.audit(eventDescribe, "", q.ImageName, 0, &res.Answer, start, err)
		return nil, err
	}
	res.Features = ex.Features

	gen, err := s.orchestrator.Generate(ctx, generation.Request{
		Features: ex.Features,
		Query:    prompt,
		Model:    res.Model,
		Image:    s.readImage(q.ImagePath),
	})
	if err != nil {
		s.audit(eventDescribe, "", q.ImageName, 0, &res.Answer, start, err)
		return res, err
	}
	fill(&res.Answer, gen)
	s.audit(eventDescribe, "", q.ImageName, 0, &res.Answer, start, nil)
	return res, nil
}

// Reason answers one turn of a conversation. Without a session id a new session is
// created from the uploaded image; with one, the stored features and image are reused
// and any uploaded image is ignored.
func (s *Service) Reason(ctx context.Context, q models.ReasonQuery) (*ReasonResult, error) {
	start := time.Now()
	if q.RequestID == "" {
		q.RequestID = uuid.New().String()
	}
	res := &ReasonResult{SessionID: q.SessionID}
	res.RequestID = q.RequestID

	fail := func(err error) (*ReasonResult, error) {
		s.audit(eventReason, res.SessionID, q.ImageName, 0, &res.Answer, start, err)
		return res, err
	}

	if err := q.Validate(); err != nil {
		return fail(err)
	}
	res.SessionID = q.SessionID

	var sess *models.Session
	if q.SessionID != "" {
		var err error
		if sess, err = s.sessions.Get(q.SessionID); err != nil {
			return fail(err)
		}
		if q.ImagePath != "" {
			s.logger.Debug("image ignored for existing session", zap.String("session_id", sess.ID))
		}
	} else {
		ex, err := s.extractor.Extract(ctx, q.ImagePath)
		if err != nil {
			return fail(fmt.Errorf("extract features: %w", err))
		}
		id := s.sessions.Create(ex.Features, q.ImageName, q.ImagePath, s.model(q.Model, ""))
		if sess, err = s.sessions.Get(id); err != nil {
			return fail(err)
		}
		res.SessionID = id
		res.NewSession = true
	}
	res.Model = s.model(q.Model, sess.Model)

	gen, err := s.orchestrator.Generate(ctx, generation.Request{
		Features: sess.Features,
		Query:    q.Prompt,
		History:  session.Window(sess.History, s.opts.HistoryWindow),
		Model:    res.Model,
		Image:    s.readImage(sess.ImagePath),
	})
	if err != nil {
		return fail(err)
	}
	fill(&res.Answer, gen)

	turn, err := s.sessions.AppendTurn(sess.ID, q.Prompt, gen.Text)
	if err != nil {
		// The session was evicted or ended while generating; the answer still stands.
		s.logger.Warn("session turn not recorded", zap.String("session_id", sess.ID), zap.Error(err))
	}
	res.Turn = turn
	if res.Model != sess.Model {
		if err := s.sessions.SetModel(sess.ID, res.Model); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("session model not updated", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	s.audit(eventReason, res.SessionID, q.ImageName, res.Turn, &res.Answer, start, nil)
	return res, nil
}

// EndSession removes a session and reports whether it existed.
func (s *Service) EndSession(id string) bool {
	return s.sessions.End(id)
}

// Sessions lists live sessions, most recently active first.
func (s *Service) Sessions() []session.Summary {
	return s.sessions.List()
}

// Session returns one session with its history.
func (s *Service) Session(id string) (*models.Session, error) {
	return s.sessions.Get(id)
}

// Health probes the generative endpoint with model, or the default model.
func (s *Service) Health(ctx context.Context, model string) (*gateway.HealthStatus, error) {
	if s.health == nil {
		return nil, errors.New("health check not configured")
	}
	return s.health.Health(ctx, s.model(model, ""))
}

// DefaultModel returns the configured default model.
func (s *Service) DefaultModel() string { return s.opts.DefaultModel }

func (s *Service) model(requested, fallback string) string {
	switch {
	case requested != "":
		return requested
	case fallback != "":
		return fallback
	default:
		return s.opts.DefaultModel
	}
}

// readImage returns the image bytes, or nil when the file is gone; generation then
// relies on the stored features alone.
func (s *Service) readImage(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("image unavailable for generation", zap.String("path", path), zap.Error(err))
		return nil
	}
	return data
}

func fill(a *Answer, gen *generation.Result) {
	a.Text = gen.Text
	a.Degraded = gen.Degraded()
	a.Intent = gen.Intent.Label()
	a.Tier = gen.Tier.String()
}

func (s *Service) audit(event, sessionID, imageName string, turn int, a *Answer, start time.Time, err error) {
	a.Latency = time.Since(start)
	a.LatencyMS = a.Latency.Milliseconds()
	status := runlog.StatusOK
	switch {
	case err != nil:
		status = runlog.StatusError
	case a.Degraded:
		status = runlog.StatusDegraded
	}
	s.runs.Write(runlog.Record{
		Event:     event,
		RequestID: a.RequestID,
		SessionID: sessionID,
		ImageName: imageName,
		Model:     a.Model,
		Latency:   a.Latency,
		Status:    status,
		Tier:      a.Tier,
		Intent:    a.Intent,
		Turn:      turn,
		Err:       err,
	})
	if err != nil {
		s.logger.Info("request failed", zap.String("event", event), zap.String("request_id", a.RequestID), zap.Error(err))
	}
}
