package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/iris/internal/gateway"
	"github.com/hyperjump/iris/internal/models"
	"go.uber.org/zap"
)

// Outcome classifies how a Result was produced.
type Outcome string

const (
	// OutcomeAnswered means a tier returned a sufficient answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeCandidate means no tier was sufficient and the best candidate was used.
	OutcomeCandidate Outcome = "candidate"
	// OutcomeDegraded means every tier returned empty text and a canned reply was used.
	OutcomeDegraded Outcome = "degraded"
)

const fallbackApology = "I could not produce an answer for this image right now. Please try rephrasing the question."

var reThink = regexp.MustCompile(`(?is)<think>.*?(</think>|$)`)

// Options tunes the orchestrator.
type Options struct {
	MinDetailedChars int
	HistoryWindow    int
}

// Request is one generation call.
type Request struct {
	Features models.FeatureRecord
	Query    string
	History  []models.ConversationTurn
	Model    string
	Image    []byte
}

// Attempt records one tier call.
type Attempt struct {
	Tier       Tier          `json:"tier"`
	Chars      int           `json:"chars"`
	Sufficient bool          `json:"sufficient"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Result is the final answer with its provenance.
type Result struct {
	Text     string    `json:"text"`
	Intent   Intent    `json:"intent"`
	Outcome  Outcome   `json:"outcome"`
	Tier     Tier      `json:"tier"`
	Attempts []Attempt `json:"attempts"`
}

// Degraded reports whether the answer did not pass the sufficiency check.
func (r *Result) Degraded() bool { return r.Outcome != OutcomeAnswered }

// UpstreamUnavailableError is returned when every tier failed to reach the endpoint.
type UpstreamUnavailableError struct {
	BaseURL string
	Model   string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("generative endpoint %s unavailable for model %q: %v", e.BaseURL, e.Model, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// Orchestrator runs the tiered generation sequence against a gateway.
type Orchestrator struct {
	gw     gateway.Gateway
	opts   Options
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator. A nil logger disables logging.
func NewOrchestrator(gw gateway.Gateway, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MinDetailedChars <= 0 {
		opts.MinDetailedChars = DefaultMinDetailedChars
	}
	if opts.HistoryWindow < 0 {
		opts.HistoryWindow = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{gw: gw, opts: opts, logger: logger}
}

// Generate produces an answer for req. It calls the gateway at most three times:
// primary chat, retry chat with a stricter prompt, then the completion endpoint.
// It returns *UpstreamUnavailableError only when no tier reached the endpoint.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	intent := Classify(req.Query)
	prompt := BuildPrompt(req.Features, req.Query, req.History, intent, o.opts.HistoryWindow)
	retryPrompt := BuildRetryPrompt(prompt, intent)

	var images []string
	if len(req.Image) > 0 {
		images = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}

	res := &Result{Intent: intent}
	var candidates []string
	var lastErr error
	reached := false

	for tier := TierPrimaryChat; tier != TierDone; tier = tier.Next() {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		start := time.Now()
		text, err := o.call(ctx, tier, req.Model, prompt, retryPrompt, images)
		attempt := Attempt{Tier: tier, Latency: time.Since(start)}
		if err != nil {
			attempt.Error = err.Error()
			res.Attempts = append(res.Attempts, attempt)
			lastErr = err
			o.logger.Warn("Generation tier failed",
				zap.String("tier", tier.String()),
				zap.String("model", req.Model),
				zap.Error(err))
			continue
		}
		reached = true
		text = CleanResponse(text)
		attempt.Chars = utf8.RuneCountInString(text)
		attempt.Sufficient = IsSufficient(text, intent, o.opts.MinDetailedChars)
		res.Attempts = append(res.Attempts, attempt)
		o.logger.Debug("Generation tier finished",
			zap.String("tier", tier.String()),
			zap.String("intent", intent.Label()),
			zap.Int("chars", attempt.Chars),
			zap.Bool("sufficient", attempt.Sufficient))

		if attempt.Sufficient {
			res.Text, res.Outcome, res.Tier = text, OutcomeAnswered, tier
			return res, nil
		}
		if text != "" {
			candidates = append(candidates, text)
			res.Tier = tier
		}
	}

	if best := SelectCandidate(candidates, intent); best != "" {
		res.Text, res.Outcome = best, OutcomeCandidate
		return res, nil
	}
	if !reached {
		if lastErr == nil {
			lastErr = errors.New("no tier attempted")
		}
		return nil, &UpstreamUnavailableError{BaseURL: o.gw.BaseURL(), Model: req.Model, Err: lastErr}
	}

	res.Outcome, res.Tier = OutcomeDegraded, TierDone
	res.Text = fallbackText(req.Features)
	return res, nil
}

func (o *Orchestrator) call(ctx context.Context, tier Tier, model, prompt, retryPrompt string, images []string) (string, error) {
	switch tier {
	case TierPrimaryChat:
		return o.gw.Chat(ctx, model, []gateway.Message{{Role: "user", Content: prompt, Images: images}})
	case TierRetryChat:
		return o.gw.Chat(ctx, model, []gateway.Message{{Role: "user", Content: retryPrompt, Images: images}})
	case TierFallbackGenerate:
		return o.gw.Generate(ctx, model, retryPrompt, images)
	default:
		return "", fmt.Errorf("unknown tier %d", tier)
	}
}

// CleanResponse removes <think> blocks and surrounding whitespace from model output.
func CleanResponse(text string) string {
	return strings.TrimSpace(reThink.ReplaceAllString(text, ""))
}

func fallbackText(f models.FeatureRecord) string {
	if c := strings.TrimSpace(f.Caption); c != "" {
		return "I could not produce a complete answer, but the image appears to show: " + c
	}
	return fallbackApology
}
