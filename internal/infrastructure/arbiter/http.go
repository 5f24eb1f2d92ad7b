package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ClassifierURL    string
	VerifierURL      string
	APIKey           string
	Timeout          time.Duration
	MaxElapsed       time.Duration
	ApproveThreshold float64
}

// Client calls a remote classification and verification service. Transient
// failures (transport errors, 429 and 5xx) are retried with exponential
// backoff; anything else fails at once.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
	logger logging.Logger
	now    func() time.Time

	newBackOff func() backoff.BackOff
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	if cfg.ApproveThreshold <= 0 || cfg.ApproveThreshold > 1 {
		cfg.ApproveThreshold = DefaultApproveThreshold
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer:     tracing.GetTracer("arbiter"),
		logger:     logger,
		now:        time.Now,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

type classifyRequest struct {
	Description string `json:"description"`
}

type classifyResponse struct {
	Category         domain.Category       `json:"category"`
	RequiredEvidence []domain.EvidenceKind `json:"required_evidence,omitempty"`
}

// Classify asks the remote service for a category and maps it to the
// evidence it requires. An explicit evidence list in the answer wins.
func (c *Client) Classify(ctx context.Context, description string) ([]domain.EvidenceKind, error) {
	ctx, span := c.tracer.Start(ctx, "arbiter.classify")
	defer span.End()

	var out classifyResponse
	if err := c.call(ctx, c.cfg.ClassifierURL, classifyRequest{Description: description}, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("arbiter.category", string(out.Category)))

	if len(out.RequiredEvidence) > 0 {
		kinds := make([]domain.EvidenceKind, 0, len(out.RequiredEvidence))
		for _, k := range out.RequiredEvidence {
			if !k.Valid() {
				return nil, fmt.Errorf("classifier returned unknown evidence kind %q", k)
			}
			kinds = append(kinds, k)
		}
		return kinds, nil
	}
	if !out.Category.Valid() {
		return nil, fmt.Errorf("classifier returned unknown category %q", out.Category)
	}
	return domain.RequiredEvidence(out.Category), nil
}

type verifyRequest struct {
	RoomPhrase        string                           `json:"room_code"`
	Description       string                           `json:"description"`
	Amount            string                           `json:"amount"`
	RequiredEvidence  []domain.EvidenceKind            `json:"required_evidence"`
	SubmittedEvidence map[domain.EvidenceKind][]string `json:"submitted_evidence"`
}

type verifyResponse struct {
	Decision        domain.VerdictDecision `json:"decision"`
	FinalConfidence *float64               `json:"final_confidence"`
	Reasoning       string                 `json:"reasoning"`
}

// Verify asks the remote service for a verdict. A reply with only a
// confidence is decided against the approve threshold.
func (c *Client) Verify(ctx context.Context, dc domain.DisputeCase) (domain.Verdict, error) {
	ctx, span := c.tracer.Start(ctx, "arbiter.verify", trace.WithAttributes(
		attribute.String("room.phrase", dc.RoomPhrase),
	))
	defer span.End()

	req := verifyRequest{
		RoomPhrase:        dc.RoomPhrase,
		Description:       dc.Description,
		Amount:            dc.Amount.String(),
		RequiredEvidence:  dc.RequiredEvidence,
		SubmittedEvidence: dc.SubmittedEvidence,
	}

	var out verifyResponse
	if err := c.call(ctx, c.cfg.VerifierURL, req, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Verdict{}, err
	}

	verdict, err := c.normalise(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Verdict{}, err
	}
	span.SetAttributes(attribute.String("arbiter.decision", string(verdict.Decision)))
	return verdict, nil
}

func (c *Client) normalise(out verifyResponse) (domain.Verdict, error) {
	var confidence float64
	if out.FinalConfidence != nil {
		confidence = *out.FinalConfidence
	}

	verdict := domain.Verdict{
		Decision:   domain.VerdictDecision(strings.ToUpper(string(out.Decision))),
		Confidence: confidence,
		Reasoning:  out.Reasoning,
		DecidedAt:  c.now(),
	}

	switch verdict.Decision {
	case domain.VerdictApprove, domain.VerdictReject:
		return verdict, nil
	case "":
		if out.FinalConfidence == nil {
			return domain.Verdict{}, errors.New("verifier returned neither decision nor confidence")
		}
		verdict.Decision = decide(confidence, c.cfg.ApproveThreshold).Decision
		return verdict, nil
	}
	return domain.Verdict{}, fmt.Errorf("verifier returned unknown decision %q", out.Decision)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("arbiter responded %d: %s", e.code, e.body)
}

func (c *Client) call(ctx context.Context, url string, in, out any) error {
	if url == "" {
		return errors.New("arbiter endpoint is not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := c.post(ctx, url, body, out)
		if err == nil {
			return struct{}{}, nil
		}

		var (
			se   *statusError
			perm *backoff.PermanentError
		)
		if errors.As(err, &perm) {
			return struct{}{}, err
		}
		if errors.As(err, &se) && se.code != http.StatusTooManyRequests && se.code < 500 {
			return struct{}{}, backoff.Permanent(err)
		}

		c.logger.Warn(logging.Dispute, logging.ExternalService, "arbiter call failed, retrying", map[logging.ExtraKey]any{
			logging.Path:         url,
			logging.ErrorMessage: err.Error(),
			logging.Count:        attempt,
		})
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsed),
	)
	return err
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return backoff.RetryAfter(secs)
			}
		}
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding arbiter response: %w", err))
	}
	return nil
}
