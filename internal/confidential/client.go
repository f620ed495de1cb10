package confidential

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
	dErrors "paygate/pkg/domain-errors"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with a 10s
	// timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client reads account state over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("confidential: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("confidential: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type accountResponse struct {
	DataLen     int    `json:"data_len"`
	ProofStatus string `json:"proof_status"`
}

// Inspect fetches GET {base}/accounts/{account}. A 404 is a definite answer
// (the account does not exist), not an error.
func (c *Client) Inspect(ctx context.Context, account address.Address) (*AccountState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/accounts/"+account.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("confidential: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "confidential account lookup cancelled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "confidential transfer subsystem unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &AccountState{Account: account, ProofStatus: ProofStatusUnknown}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.WarnContext(ctx, "confidential account lookup failed",
			"account", account.String(),
			"status", resp.StatusCode,
		)
		return nil, dErrors.New(dErrors.CodeUnavailable,
			fmt.Sprintf("confidential transfer subsystem returned status %d", resp.StatusCode))
	}

	var body accountResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed confidential account response")
	}
	return &AccountState{
		Account:     account,
		Exists:      true,
		DataLen:     body.DataLen,
		ProofStatus: ParseProofStatus(body.ProofStatus),
	}, nil
}
