package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgiform/surgiform/internal/domain/consent"
	"github.com/surgiform/surgiform/internal/domain/intake"
)

// Default per-call budgets.
const (
	DefaultGenerateTimeout = 3 * time.Minute
	DefaultHealthTimeout   = 10 * time.Second
)

const maxErrorBody = 4 << 10

// GenerateResponse is the generated consent content. Both fields accept the
// flat and the nested wire shape.
type GenerateResponse struct {
	Consents   consent.Items         `json:"consents"`
	References consent.ReferenceList `json:"references"`
}

// Submission is the final record sent to the backend once the document is
// signed and archived.
type Submission struct {
	SessionID      string                `json:"session_id"`
	Request        intake.ConsentRequest `json:"consent_request"`
	Consents       []consent.Item        `json:"consents"`
	References     []consent.Reference   `json:"references,omitempty"`
	DocumentID     string                `json:"document_id"`
	DocumentSHA256 string                `json:"document_sha256"`
	Signatures     SignatureFlags        `json:"signatures"`
	SubmittedAt    time.Time             `json:"submitted_at"`
}

// SignatureFlags records which signatures were embedded in the document.
type SignatureFlags struct {
	Patient bool `json:"patient"`
	Doctor  bool `json:"doctor"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// ChatMessage is one turn of a refinement conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks the backend to revise the current consent content.
type ChatRequest struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversation_id,omitempty"`
	History        []ChatMessage      `json:"history"`
	Consents       consent.Sections   `json:"consents"`
	References     consent.References `json:"references"`
}

// ChatResponse carries the assistant reply and, when IsContentModified is
// set, the revised content.
type ChatResponse struct {
	Message           string                `json:"message"`
	ConversationID    string                `json:"conversation_id"`
	History           []ChatMessage         `json:"history"`
	UpdatedConsents   consent.Items         `json:"updated_consents"`
	UpdatedReferences consent.ReferenceList `json:"updated_references"`
	IsContentModified bool                  `json:"is_content_modified"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Per-call budgets are applied
// through the request context, so the client's own Timeout should be zero
// or larger than the budgets.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGenerateTimeout sets the budget for generation, submission and chat
// calls.
func WithGenerateTimeout(d time.Duration) Option {
	return func(c *Client) { c.generateTimeout = d }
}

// WithHealthTimeout sets the budget for the liveness probe.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

// Client calls the consent generation backend. Every call is a single
// attempt bounded by its budget; there are no retries.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          zerolog.Logger
	generateTimeout time.Duration
	healthTimeout   time.Duration
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		logger:          logger.With().Str("component", "gateway").Logger(),
		generateTimeout: DefaultGenerateTimeout,
		healthTimeout:   DefaultHealthTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate posts the mapped request and returns the generated consent.
func (c *Client) Generate(ctx context.Context, req intake.ConsentRequest) (*GenerateResponse, error) {
	var out GenerateResponse
	if err := c.do(ctx, "generate", http.MethodPost, "/consent", c.generateTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", c.healthTimeout, nil, nil)
}

// Submit persists the final submission.
func (c *Client) Submit(ctx context.Context, sub Submission) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, "submit", http.MethodPost, "/consent/submit", c.generateTimeout, sub, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends one refinement turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.History == nil {
		req.History = []ChatMessage{}
	}
	var out ChatResponse
	if err := c.do(ctx, "chat", http.MethodPost, "/chat", c.generateTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, budget time.Duration, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindConnectivity, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		gerr := classify(ctx, op, err)
		c.logger.Warn().Err(err).Str("op", op).Str("kind", string(gerr.Kind)).
			Dur("latency", time.Since(start)).Msg("backend call failed")
		return gerr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).
			Dur("latency", time.Since(start)).Msg("backend returned non-200")
		return &Error{
			Kind:       KindBackend,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classify(ctx, op, err)
		}
		return &Error{Kind: KindBackend, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Debug().Str("op", op).Dur("latency", time.Since(start)).Msg("backend call completed")
	return nil
}

// classify maps a transport error to a timeout or connectivity failure.
func classify(ctx context.Context, op string, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindConnectivity, Op: op, Err: err}
}
