// Package momo queries the MTN MoMo Collection API for request-to-pay status.
package momo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"akiba/internal/core"
)

const (
	tokenPath  = "/collection/token/"
	statusPath = "/collection/v1_0/requesttopay/"

	// tokenSkew renews the access token slightly before the gateway expires it.
	tokenSkew = 30 * time.Second
)

type Config struct {
	BaseURL           string
	SubscriptionKey   string
	APIUser           string
	APIKey            string
	TargetEnvironment string // "sandbox" or the production market name
	HTTPClient        *http.Client
}

// Client implements services.Gateway.
type Client struct {
	baseURL   string
	subKey    string
	apiUser   string
	apiKey    string
	targetEnv string
	http      *http.Client
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("momo base url is empty")
	}
	if cfg.SubscriptionKey == "" || cfg.APIUser == "" || cfg.APIKey == "" {
		return nil, errors.New("momo credentials are incomplete")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	env := cfg.TargetEnvironment
	if env == "" {
		env = "sandbox"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		subKey:    cfg.SubscriptionKey,
		apiUser:   cfg.APIUser,
		apiKey:    cfg.APIKey,
		targetEnv: env,
		http:      hc,
		now:       time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type statusResponse struct {
	Amount                 string          `json:"amount"`
	Currency               string          `json:"currency"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	ExternalID             string          `json:"externalId"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason"`
}

// QueryStatus returns the gateway's view of reference. An unknown reference is
// core.ErrNotFound; transport failures and 5xx are core.ErrUpstreamUnavailable.
func (c *Client) QueryStatus(ctx context.Context, reference string) (core.PaymentReport, error) {
	report, err := c.queryStatus(ctx, reference)
	if errors.Is(err, errUnauthorized) {
		// the cached token was revoked early; one fresh token, one more try
		c.clearToken()
		report, err = c.queryStatus(ctx, reference)
	}
	if errors.Is(err, errUnauthorized) {
		return core.PaymentReport{}, fmt.Errorf("%w: momo rejected credentials", core.ErrUpstreamUnavailable)
	}
	return report, err
}

var errUnauthorized = errors.New("momo: unauthorized")

func (c *Client) queryStatus(ctx context.Context, reference string) (core.PaymentReport, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return core.PaymentReport{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath+url.PathEscape(reference), nil)
	if err != nil {
		return core.PaymentReport{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subKey)
	req.Header.Set("X-Target-Environment", c.targetEnv)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.PaymentReport{}, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.PaymentReport{}, fmt.Errorf("momo reference %s: %w", reference, core.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return core.PaymentReport{}, errUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return core.PaymentReport{}, fmt.Errorf("%w: momo status %d: %s",
			core.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return core.PaymentReport{}, fmt.Errorf("%w: decode momo status: %v", core.ErrUpstreamUnavailable, err)
	}

	status, ok := core.ParseTopUpStatus(parsed.Status)
	if !ok {
		return core.PaymentReport{}, fmt.Errorf("%w: unrecognised momo status %q", core.ErrUpstreamUnavailable, parsed.Status)
	}
	slog.DebugContext(ctx, "MoMo status received", "reference", reference, "status", string(status))
	return core.PaymentReport{
		Status:        status,
		TransactionID: parsed.FinancialTransactionID,
		Reason:        parseReason(parsed.Reason),
	}, nil
}

// parseReason accepts both the sandbox's bare string and the
// {"code","message"} object some markets return.
func parseReason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Code != "" {
			return obj.Code
		}
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.apiUser, c.apiKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: momo token: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: momo token status %d: %s",
			core.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed momo token response", core.ErrUpstreamUnavailable)
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}
	c.token = tr.AccessToken
	c.expires = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
