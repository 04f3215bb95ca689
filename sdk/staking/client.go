// Package staking is a Go client for the stakingd HTTP API. Settlement calls
// carry a settlement ID that is generated once and reused across retries, so
// a retried request can never settle twice.
package staking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client wraps the stakingd REST endpoints.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	retry      RetryConfig
}

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetry returns the retry policy used unless overridden.
func DefaultRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	client := &Client{baseURL: parsed, httpClient: http.DefaultClient, retry: DefaultRetry()}
	for _, opt := range opts {
		opt(client)
	}
	if client.retry.MaxAttempts <= 0 {
		client.retry.MaxAttempts = 1
	}
	return client, nil
}

// NewSettlementID returns a fresh settlement ID.
func NewSettlementID() string {
	return uuid.NewString()
}

// APIError is a non-2xx response from stakingd.
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("stakingd %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("stakingd %d %s: %s", e.Status, e.Code, e.Message)
}

// StatusCode exposes the HTTP status for retry classification.
func (e *APIError) StatusCode() int { return e.Status }

// Receipt mirrors a settlement response.
type Receipt struct {
	SettlementID   string `json:"settlementId"`
	Operation      string `json:"operation"`
	Owner          string `json:"owner"`
	Amount         string `json:"amount"`
	AmountDisplay  string `json:"amountDisplay,omitempty"`
	Reward         string `json:"reward"`
	RewardDisplay  string `json:"rewardDisplay,omitempty"`
	StakedAfter    string `json:"stakedAfter"`
	TotalHarvested string `json:"totalHarvested"`
	ConfigVersion  uint64 `json:"configVersion"`
	SettledAt      int64  `json:"settledAt"`
	Status         string `json:"status"`
	Forfeited      string `json:"forfeited,omitempty"`
	ForfeitReason  string `json:"forfeitReason,omitempty"`
}

// AlreadySettled reports whether the server recognised a replay.
func (r *Receipt) AlreadySettled() bool { return r != nil && r.Status == "already_settled" }

// Config mirrors GET /v1/config.
type Config struct {
	Version              uint64 `json:"version"`
	Admin                string `json:"admin"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	RatePerSecond        string `json:"ratePerSecond"`
	Model                string `json:"model"`
	Decimals             uint8  `json:"decimals"`
	StakeToken           string `json:"stakeToken"`
	RewardToken          string `json:"rewardToken"`
	StakeThresholdRaw    string `json:"stakeThresholdRaw"`
	UnstakeThresholdRaw  string `json:"unstakeThresholdRaw"`
	HarvestThresholdRaw  string `json:"harvestThresholdRaw"`
	StakeThreshold       string `json:"stakeThreshold"`
	UnstakeThreshold     string `json:"unstakeThreshold"`
	HarvestThreshold     string `json:"harvestThreshold"`
	UpdatedAt            int64  `json:"updatedAt"`
}

// Account mirrors GET /v1/accounts/{owner}.
type Account struct {
	Owner                 string `json:"owner"`
	State                 string `json:"state"`
	StakedAmount          string `json:"stakedAmount"`
	StakedAmountDisplay   string `json:"stakedAmountDisplay"`
	StakeStartTime        int64  `json:"stakeStartTime"`
	LastHarvestTime       int64  `json:"lastHarvestTime"`
	TotalHarvested        string `json:"totalHarvested"`
	TotalHarvestedDisplay string `json:"totalHarvestedDisplay"`
}

// Preview mirrors GET /v1/accounts/{owner}/preview.
type Preview struct {
	Owner                string `json:"owner"`
	Pending              string `json:"pending"`
	PendingDisplay       string `json:"pendingDisplay"`
	ElapsedSeconds       int64  `json:"elapsedSeconds"`
	StakedAmount         string `json:"stakedAmount"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	Model                string `json:"model"`
	ConfigVersion        uint64 `json:"configVersion"`
	ComputedAt           int64  `json:"computedAt"`
}

// ConfigUpdate carries the admin-mutable fields in raw units.
type ConfigUpdate struct {
	Caller               string `json:"caller"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	HarvestThresholdRaw  string `json:"harvestThresholdRaw"`
	StakeThresholdRaw    string `json:"stakeThresholdRaw"`
	UnstakeThresholdRaw  string `json:"unstakeThresholdRaw"`
}

func (c *Client) Config(ctx context.Context) (*Config, error) {
	var out Config
	if err := c.do(ctx, http.MethodGet, "/v1/config", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Account(ctx context.Context, owner string) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(owner), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Preview(ctx context.Context, owner string) (*Preview, error) {
	var out Preview
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(owner)+"/preview", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists the owner's settlements newest first.
func (c *Client) History(ctx context.Context, owner string, limit int) ([]Receipt, error) {
	path := "/v1/accounts/" + url.PathEscape(owner) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Settlements []Receipt `json:"settlements"`
	}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Settlements, nil
}

// Stake locks amountRaw of the stake token. An empty settlementID is
// replaced with a fresh one.
func (c *Client) Stake(ctx context.Context, settlementID, owner, amountRaw string) (*Receipt, error) {
	return c.settle(ctx, "/v1/stake", settlementID, map[string]string{"owner": owner, "amount": amountRaw})
}

func (c *Client) Unstake(ctx context.Context, settlementID, owner, amountRaw string) (*Receipt, error) {
	return c.settle(ctx, "/v1/unstake", settlementID, map[string]string{"owner": owner, "amount": amountRaw})
}

// WithdrawPrincipal unstakes amountRaw and forfeits the pending reward. It is
// the way out when the reward pool is short or the reward overflows.
func (c *Client) WithdrawPrincipal(ctx context.Context, settlementID, owner, amountRaw string) (*Receipt, error) {
	return c.settle(ctx, "/v1/unstake", settlementID, map[string]any{"owner": owner, "amount": amountRaw, "forfeitReward": true})
}

func (c *Client) Harvest(ctx context.Context, settlementID, owner string) (*Receipt, error) {
	return c.settle(ctx, "/v1/harvest", settlementID, map[string]string{"owner": owner})
}

func (c *Client) UpdateConfig(ctx context.Context, settlementID string, update ConfigUpdate) (*Receipt, error) {
	return c.settle(ctx, "/v1/admin/config", settlementID, update)
}

func (c *Client) FundRewards(ctx context.Context, settlementID, caller, amountRaw string) (*Receipt, error) {
	return c.settle(ctx, "/v1/admin/fund", settlementID, map[string]string{"caller": caller, "amount": amountRaw})
}

func (c *Client) settle(ctx context.Context, path, settlementID string, payload any) (*Receipt, error) {
	if strings.TrimSpace(settlementID) == "" {
		settlementID = NewSettlementID()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out Receipt
	if err := c.do(ctx, http.MethodPost, path, settlementID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, settlementID string, body []byte, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(c.retry, attempt-1)):
			}
		}
		lastErr = c.once(ctx, method, path, settlementID, body, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, path, settlementID string, body []byte, out any) error {
	target, err := c.baseURL.Parse(path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if settlementID != "" {
		req.Header.Set("X-Settlement-ID", settlementID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		envelope.Error = apiErr
		if json.Unmarshal(payload, &envelope) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport errors: the settlement ID makes a resend safe.
	return true
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	wait := cfg.BaseBackoff * time.Duration(1<<uint(attempt))
	if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
		wait = cfg.MaxBackoff
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(wait) * jitter)
}
