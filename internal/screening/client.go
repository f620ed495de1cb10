package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	dErrors "paygate/pkg/domain-errors"
)

const maxResponseBytes = 1 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the provider API root, e.g. "https://api.range.org/v1".
	BaseURL string
	// APIKey is sent both as a bearer token and as X-API-Key.
	APIKey string
	// Network names the chain the wallet lives on. Defaults to "solana".
	Network string
	// HTTPClient is used for all requests. If nil, a client with a 10s
	// timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Now overrides the clock used for CheckedAt.
	Now func() time.Time
}

// Client screens wallets against a Range-style HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient validates the configuration and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("screening: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("screening: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("screening: APIKey is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	network := config.Network
	if network == "" {
		network = "solana"
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		network:    network,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}, nil
}

// Screen queries /address first and falls back to /screen/address when the
// provider rejects the first form.
func (c *Client) Screen(ctx context.Context, wallet address.Address) (*Result, error) {
	if wallet.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "wallet is required")
	}

	query := url.Values{}
	query.Set("address", wallet.String())
	query.Set("network", c.network)
	body, status, err := c.doRequest(ctx, "/address?"+query.Encode())
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		c.logger.WarnContext(ctx, "screening endpoint rejected request, trying alternate",
			"status", status,
			"body", truncate(body, 200),
		)
		alt := url.Values{}
		alt.Set("address", wallet.String())
		alt.Set("chain", c.network)
		body, status, err = c.doRequest(ctx, "/screen/address?"+alt.Encode())
		if err != nil {
			return nil, err
		}
		if status < 200 || status > 299 {
			return nil, dErrors.New(dErrors.CodeUnavailable,
				fmt.Sprintf("screening provider returned status %d", status))
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "screening provider returned malformed response")
	}
	result := ParseResponse(payload)
	result.Wallet = wallet
	result.Provider = ProviderRange
	result.CheckedAt = c.now().UTC()
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("screening: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, dErrors.Wrap(err, dErrors.CodeTimeout, "screening request cancelled")
		}
		return nil, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "screening provider unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "read screening response")
	}
	return body, resp.StatusCode, nil
}

// ParseResponse extracts a verdict from a provider document. Providers
// disagree on field names, so each value is taken from the first field that
// carries it. Missing scores default to 75.
func ParseResponse(data map[string]any) *Result {
	score, ok := firstNumber(data, "score", "risk_score", "riskScore", "trust_score")
	if !ok {
		score = 75
		if risk, isMap := data["risk"].(map[string]any); isMap {
			if v, isNum := risk["score"].(float64); isNum {
				score = v
			}
		}
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	result := &Result{Score: uint8(score)}

	result.RiskLevel = models.RiskLevelForScore(int(result.Score))
	for _, key := range []string{"risk_level", "riskLevel"} {
		if raw, ok := data[key].(string); ok {
			if level, ok := models.ParseRiskLevel(raw); ok {
				result.RiskLevel = level
			}
			break
		}
	}

	if v, ok := data["sanctioned"].(bool); ok {
		result.Sanctioned = v
	}
	if v, ok := data["is_sanctioned"].(bool); ok {
		result.Sanctioned = v
	}
	if v, ok := data["flagged"].(bool); ok {
		result.Flagged = v
	}
	if v, ok := data["is_flagged"].(bool); ok {
		result.Flagged = v
	}
	return result
}

func firstNumber(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := data[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
