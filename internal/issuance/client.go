package issuance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"openbadger/internal/assertion"
	"openbadger/pkg/platform/circuit"
	"openbadger/pkg/platform/sentinel"
)

// Issuer is the external badge service the coordinator calls. Implementations
// must return sentinel.ErrUnavailable for transient transport failures so the
// caller can distinguish retryable outages from rejections.
type Issuer interface {
	// Issue creates one issuance event for the batch and returns the issuer's
	// event id.
	Issue(ctx context.Context, req IssueRequest) (string, error)

	// Assertions lists the badges the issuer holds for the given recipient
	// address.
	Assertions(ctx context.Context, email string) ([]assertion.Assertion, error)
}

// Client talks to the issuer over HTTP with a signed client token. A circuit
// breaker guards the dependency: while open, calls fast-fail with
// sentinel.ErrUnavailable except for one probe per probe interval.
type Client struct {
	baseURL    string
	clientID   string
	signingKey []byte
	httpClient *http.Client
	breaker    *circuit.Breaker

	mu            sync.Mutex
	lastProbe     time.Time
	probeInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests use httptest).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithProbeInterval sets how often an open breaker lets a probe through.
func WithProbeInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.probeInterval = d
		}
	}
}

func NewClient(baseURL, clientID, signingKey string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       baseURL,
		clientID:      clientID,
		signingKey:    []byte(signingKey),
		httpClient:    &http.Client{Timeout: timeout},
		breaker:       circuit.New("issuer"),
		probeInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Issue(ctx context.Context, req IssueRequest) (string, error) {
	body := map[string]any{
		"recipient":       req.Recipients,
		"email_subject":   req.Subject,
		"email_body":      req.Body,
		"email_footer":    req.Footer,
		"email_link_text": req.LinkText,
		"issued_on":       req.IssuedAt.Unix(),
	}
	endpoint := fmt.Sprintf("%s/v1/badge/%s/issue", c.baseURL, url.PathEscape(req.BadgeID))

	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := c.post(ctx, endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.EventID == "" {
		resp.EventID = uuid.NewString()
	}
	return resp.EventID, nil
}

func (c *Client) Assertions(ctx context.Context, email string) ([]assertion.Assertion, error) {
	endpoint := fmt.Sprintf("%s/v1/assertions?recipient=%s", c.baseURL, url.QueryEscape(email))

	if !c.allowCall() {
		return nil, fmt.Errorf("issuer circuit open: %w", sentinel.ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build assertions request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("issuer unreachable: %w", sentinel.ErrUnavailable)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.recordStatus(res.StatusCode)
		return nil, fmt.Errorf("issuer responded %d", res.StatusCode)
	}
	c.breaker.RecordSuccess()

	var out []assertion.Assertion
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode assertions: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	if !c.allowCall() {
		return fmt.Errorf("issuer circuit open: %w", sentinel.ErrUnavailable)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode issuer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build issuer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("issuer unreachable: %w", sentinel.ErrUnavailable)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.recordStatus(res.StatusCode)
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("issuer responded %d: %s", res.StatusCode, raw)
	}
	c.breaker.RecordSuccess()

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode issuer response: %w", err)
		}
	}
	return nil
}

// authorize attaches a short-lived signed client token.
func (c *Client) authorize(req *http.Request) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": c.clientID,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	})
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return fmt.Errorf("sign issuer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

// allowCall applies the breaker: closed circuits always pass, open circuits
// pass one probe per probe interval.
func (c *Client) allowCall() bool {
	if !c.breaker.IsOpen() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastProbe) >= c.probeInterval {
		c.lastProbe = time.Now()
		return true
	}
	return false
}

// recordStatus treats server-side errors as breaker failures; client errors
// are the caller's problem and leave the circuit alone.
func (c *Client) recordStatus(status int) {
	if status >= 500 {
		c.breaker.RecordFailure()
	}
}
