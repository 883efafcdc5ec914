package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Webhook request headers.
const (
	// IdempotencyHeader carries the round id so a receiver can discard repeats.
	IdempotencyHeader = "Idempotency-Key"
	TimestampHeader   = "X-Updown-Timestamp"
	// MACHeader is hex HMAC-SHA256 over "<timestamp>.<body>".
	MACHeader = "X-Updown-Signature"
	// SignerHeader and BatchSignatureHeader carry the operator address and
	// its EIP-191 signature of the body.
	SignerHeader         = "X-Updown-Signer"
	BatchSignatureHeader = "X-Updown-Batch-Signature"
)

// WebhookDistributor POSTs each round's Batch as JSON to a reward service.
type WebhookDistributor struct {
	url    string
	apiKey string
	secret string
	signer *crypto.Signer
	client *http.Client
	now    func() time.Time
}

// WebhookOption configures a WebhookDistributor.
type WebhookOption func(*WebhookDistributor)

// WithMACSecret adds an HMAC signature of every body under secret.
func WithMACSecret(secret string) WebhookOption {
	return func(w *WebhookDistributor) { w.secret = secret }
}

// WithSigner adds the operator's EIP-191 signature of every body.
func WithSigner(s *crypto.Signer) WebhookOption {
	return func(w *WebhookDistributor) { w.signer = s }
}

// NewWebhookDistributor creates a WebhookDistributor. A zero timeout
// defaults to 10s.
func NewWebhookDistributor(url, apiKey string, timeout time.Duration, opts ...WebhookOption) *WebhookDistributor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &WebhookDistributor{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DistributeWinnings posts the batch. Any non-2xx response is an error.
func (w *WebhookDistributor) DistributeWinnings(ctx context.Context, roundID string, payouts []domain.Payout) error {
	now := w.now()
	body, err := json.Marshal(NewBatch(roundID, payouts, now))
	if err != nil {
		return fmt.Errorf("webhook: marshal batch %s: %w", roundID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, roundID)
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	if err := w.sign(req.Header, now, body); err != nil {
		return fmt.Errorf("webhook: batch %s: %w", roundID, err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send batch %s: %w", roundID, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("webhook: batch %s: %w", roundID, err)
	}
	return nil
}

func (w *WebhookDistributor) sign(h http.Header, now time.Time, body []byte) error {
	ts := now.Unix()
	h.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	if w.secret != "" {
		h.Set(MACHeader, crypto.BodyMAC(w.secret, ts, body))
	}
	if w.signer != nil {
		sig, err := w.signer.Sign(body)
		if err != nil {
			return err
		}
		h.Set(SignerHeader, w.signer.Address().Hex())
		h.Set(BatchSignatureHeader, sig)
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookDistributor) Name() string { return "webhook" }

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
