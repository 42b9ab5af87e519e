package deribit

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"greeks-watch/internal/metrics"
)

const (
	apiPath = "/api/v2"

	// Stale or invalid session token error codes per the API reference.
	codeUnauthorized      = 13009
	codeInvalidCredential = 13000

	// Tokens are treated as expired this long before their nominal expiry
	// so a call never starts with a token about to lapse.
	tokenExpiryMargin = 60 * time.Second
)

// GreeksSource selects where per-position Gamma/Vega magnitudes come from.
type GreeksSource string

const (
	// GreeksAuto prefers the order book and falls back to the position record.
	GreeksAuto GreeksSource = "auto"
	// GreeksOrderBook multiplies per-contract sensitivities by position size.
	GreeksOrderBook GreeksSource = "order_book"
	// GreeksPosition trusts the position record's aggregated fields.
	GreeksPosition GreeksSource = "position"
)

// Options parameterise the client.
type Options struct {
	ClientID       string
	ClientSecret   string
	BaseURL        string
	RetryTimes     int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	GreeksSource   GreeksSource
}

// session holds the authenticated state for private calls. Refresh is a
// pure function of (now, expiresAt): see valid.
type session struct {
	token     string
	expiresAt time.Time
}

func (s session) valid(now time.Time) bool {
	return s.token != "" && now.Before(s.expiresAt)
}

// Client issues JSON-RPC 2.0 calls against the Deribit v2 API with bounded
// retries and a managed session. It only ever reads exchange state.
type Client struct {
	opts      Options
	endpoint  string
	logger    zerolog.Logger
	client    *http.Client
	session   session
	requestID atomic.Int64

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient constructs a Deribit client. No network traffic happens until
// the first call.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.RetryTimes <= 0 {
		opts.RetryTimes = 3
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.GreeksSource == "" {
		opts.GreeksSource = GreeksAuto
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.deribit.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
	}

	return &Client{
		opts:     opts,
		endpoint: baseURL + apiPath,
		logger:   logger.With().Str("component", "deribit_client").Logger(),
		client: &http.Client{
			Timeout:   opts.RequestTimeout,
			Transport: transport,
		},
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Call issues one RPC with the configured retry budget. Private methods
// authenticate first when no valid session exists.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params, c.opts.RetryTimes)
}

// Authenticate exchanges the credential pair for an access token. It is
// attempted once; callers decide whether to retry the surrounding operation.
func (c *Client) Authenticate(ctx context.Context) error {
	metrics.RPCAuths.Inc()

	raw, err := c.call(ctx, "public/auth", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     c.opts.ClientID,
		"client_secret": c.opts.ClientSecret,
	}, 1)
	if err != nil {
		return fmt.Errorf("auth exchange: %w", err)
	}

	var res authResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode auth result: %w", err)
	}
	if res.AccessToken == "" {
		return errors.New("auth result carried no access token")
	}

	expiresIn := res.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	c.session = session{
		token:     res.AccessToken,
		expiresAt: c.now().Add(time.Duration(expiresIn)*time.Second - tokenExpiryMargin),
	}
	c.logger.Info().Msg("Deribit 认证成功")
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, attempts int) (json.RawMessage, error) {
	private := strings.HasPrefix(method, "private/")

	if private && !c.session.valid(c.now()) {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	envelope := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.requestID.Add(1),
	}
	if params != nil {
		envelope.Params = params
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		metrics.RPCAttempts.Inc()
		if attempt > 0 {
			metrics.RPCRetries.Inc()
		}

		payload, status, err := c.transmit(ctx, body, private)
		if err != nil {
			lastErr = err
			if !c.retryAfter(ctx, method, attempt, attempts, err) {
				return nil, lastErr
			}
			continue
		}

		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(payload)))
			if !c.retryAfter(ctx, method, attempt, attempts, lastErr) {
				return nil, lastErr
			}
			continue
		}

		var res rpcResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			// Undecodable envelope is terminal; retrying cannot fix it.
			return nil, fmt.Errorf("decode response: %w", err)
		}

		if res.Error != nil {
			if private && isStaleToken(res.Error) {
				c.logger.Warn().Int("code", res.Error.Code).Msg("token 过期或无效，重新认证...")
				if err := c.Authenticate(ctx); err != nil {
					return nil, err
				}
				if attempt < attempts-1 {
					lastErr = res.Error
					continue
				}
			}
			// All other application errors indicate a request the server
			// understood and rejected; a retry would repeat the rejection.
			c.logger.Error().Int("code", res.Error.Code).Str("method", method).Msg(res.Error.Message)
			return nil, res.Error
		}

		return res.Result, nil
	}

	return nil, fmt.Errorf("%s: exhausted %d attempts: %w", method, attempts, lastErr)
}

func (c *Client) transmit(ctx context.Context, body []byte, private bool) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		req.Header.Set("Authorization", "Bearer "+c.session.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return payload, resp.StatusCode, nil
}

// retryAfter decides whether another attempt remains and, if so, backs off.
// TLS handshake failures get a longer floor since they rarely clear quickly.
func (c *Client) retryAfter(ctx context.Context, method string, attempt, attempts int, cause error) bool {
	if attempt >= attempts-1 {
		c.logger.Error().Err(cause).Str("method", method).Int("attempts", attempts).Msg("请求失败，放弃重试")
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	wait := time.Duration(1<<uint(attempt)) * time.Second
	if isTLSHandshakeError(cause) {
		wait = 3*time.Second + wait
	}
	c.logger.Warn().Err(cause).Str("method", method).
		Int("attempt", attempt+1).Dur("wait", wait).Msg("请求失败，等待重试")
	c.sleep(wait)
	return true
}

func isStaleToken(apiErr *APIError) bool {
	if apiErr.Code != codeUnauthorized && apiErr.Code != codeInvalidCredential {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "unauthorized")
}

func isTLSHandshakeError(err error) bool {
	if err == nil {
		return false
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}
