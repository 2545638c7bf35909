// Package threatintel checks a request's peer address against an external
// IP reputation service. It is fail-open: any problem reaching the
// provider is logged and the request proceeds, since upstream
// availability of a third-party reputation feed must never gate all
// traffic through the gateway.
package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/logging"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.abuseipdb.com/api/v2/check"

type checkResponse struct {
	Data struct {
		AbuseConfidenceScore float64 `json:"abuseConfidenceScore"`
	} `json:"data"`
}

// Checker issues a reputation lookup for a peer address.
type Checker struct {
	apiKey     string
	baseURL    string
	minConf    float64
	httpClient *http.Client
	auditor    *audit.Logger
}

// New builds a Checker from configuration. If cfg.APIKey is empty the
// checker is a permanent no-op, matching the provider-not-configured case.
func New(cfg config.ThreatIntelConfig, auditor *audit.Logger) *Checker {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		minConf:    cfg.MinConfidence,
		httpClient: &http.Client{Timeout: timeout},
		auditor:    auditor,
	}
}

// Check looks up peerAddr's reputation and returns a 403 GatewayError if
// its confidence score meets or exceeds the configured minimum. Any
// network or provider error is logged and nil is returned (fail-open).
func (c *Checker) Check(ctx context.Context, peerAddr, requestID string) *errors.GatewayError {
	if c.apiKey == "" || peerAddr == "" {
		return nil
	}

	score, err := c.lookupWithRetry(ctx, peerAddr)
	if err != nil {
		logging.Warn("threat intel: could not check IP reputation", zap.String("peer_addr", peerAddr), zap.Error(err))
		return nil
	}

	if score < c.minConf {
		return nil
	}

	if c.auditor != nil {
		c.auditor.Emit(audit.Event{
			Event:     "ip_blacklisted",
			PeerAddr:  peerAddr,
			Detail:    fmt.Sprintf("abuse confidence score %.0f", score),
			RequestID: requestID,
		})
	}
	return errors.ErrForbidden.WithDetails("your IP address is listed as malicious").WithRequestID(requestID)
}

// lookupWithRetry retries transient failures a bounded number of times —
// the overall call is still meant to be fast, so this does not approach
// the gateway's own request timeout before giving up and failing open.
func (c *Checker) lookupWithRetry(ctx context.Context, peerAddr string) (float64, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

	var score float64
	err := backoff.Retry(func() error {
		s, err := c.lookup(ctx, peerAddr)
		if err != nil {
			return err
		}
		score = s
		return nil
	}, bo)
	return score, err
}

func (c *Checker) lookup(ctx context.Context, peerAddr string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("ipAddress", peerAddr)
	q.Set("maxAgeInDays", "90")
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("threat intel provider returned status %d", resp.StatusCode)
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Data.AbuseConfidenceScore, nil
}
