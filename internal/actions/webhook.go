package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/sony/gobreaker"
)

const (
	HeaderSignature = "X-Clientflow-Signature"
	HeaderTimestamp = "X-Clientflow-Timestamp"
	HeaderEvent     = "X-Clientflow-Event"
)

type webhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Secret  string            `json:"secret"`
}

const webhookSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": { "type": "string", "format": "uri", "pattern": "^https?://" },
    "method": { "enum": ["POST", "PUT", "PATCH"] },
    "headers": { "type": "object", "additionalProperties": { "type": "string" } },
    "secret": { "type": "string" }
  },
  "additionalProperties": false
}`

// WebhookPayload is the JSON body delivered to webhook targets.
type WebhookPayload struct {
	Event      string                `json:"event"`
	WorkflowID string                `json:"workflowId"`
	RunID      string                `json:"runId"`
	TenantID   string                `json:"tenantId"`
	Context    domain.TriggerContext `json:"context"`
	SentAt     time.Time             `json:"sentAt"`
}

// WebhookHandler delivers the trigger snapshot to an HTTP endpoint. Any non-2xx response is an
// error. Each tenant and target URL pair gets its own circuit breaker, so a dead endpoint
// fails fast without affecting other endpoints or tenants on the same host.
type WebhookHandler struct {
	client   *http.Client
	clock    core.Clock
	breakers sync.Map // tenant|url -> *gobreaker.CircuitBreaker
}

func NewWebhookHandler(timeout time.Duration, clock core.Clock) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{client: &http.Client{Timeout: timeout}, clock: clock}
}

func (h *WebhookHandler) Type() domain.ActionType { return domain.ActionCallWebhook }

func (h *WebhookHandler) Schema() string { return webhookSchema }

func (h *WebhookHandler) Execute(ctx context.Context, req Request) error {
	p, err := decodeParams[webhookParams](req.Params)
	if err != nil {
		return err
	}
	target, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("call_webhook: bad url: %w", err)
	}
	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	sentAt := h.clock.Now()
	body, err := json.Marshal(WebhookPayload{
		Event:      req.TriggerEvent,
		WorkflowID: req.WorkflowID,
		RunID:      req.RunID,
		TenantID:   req.TenantID,
		Context:    req.Snapshot,
		SentAt:     sentAt,
	})
	if err != nil {
		return err
	}

	cb := h.breaker(breakerKey(req.TenantID, target))
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, h.deliver(ctx, method, target.String(), body, p, sentAt, req.TriggerEvent)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("call_webhook: circuit open for %s: %w", target.Host, err)
	}
	return err
}

func (h *WebhookHandler) deliver(ctx context.Context, method, target string, body []byte, p webhookParams, sentAt time.Time, event string) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "clientflow-webhook/1.0")
	httpReq.Header.Set(HeaderEvent, event)
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(sentAt.Unix(), 10))
	for k, v := range p.Headers {
		httpReq.Header.Set(k, v)
	}
	if p.Secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(p.Secret, body, sentAt))
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call_webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("call_webhook: %s responded %d", target, resp.StatusCode)
	}
	return nil
}

// breakerKey drops the query and fragment so rotating tokens in the URL share a breaker.
func breakerKey(tenantID string, target *url.URL) string {
	u := *target
	u.RawQuery = ""
	u.Fragment = ""
	return tenantID + "|" + u.String()
}

func (h *WebhookHandler) breaker(key string) *gobreaker.CircuitBreaker {
	if cb, ok := h.breakers.Load(key); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}
	settings := gobreaker.Settings{
		Name:        "webhook-" + key,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Info("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	cb, _ := h.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker(settings))
	return cb.(*gobreaker.CircuitBreaker)
}

// Sign returns the "sha256=<hex>" HMAC of "<unix timestamp>.<body>" under secret.
func Sign(secret string, body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body and ts under secret.
func Verify(secret string, body []byte, ts time.Time, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body, ts)), []byte(signature))
}
