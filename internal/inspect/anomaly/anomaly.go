// Package anomaly implements the gateway's two sliding-window counters:
// too many failed inspections, or too many requests overall, from one
// client within the last 60 seconds.
package anomaly

import (
	"context"
	"strconv"
	"time"

	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
)

const (
	window       = 60 * time.Second
	windowTTL    = 2 * time.Minute
	listBound    = 1000
)

// Counters tracks per-client error and request velocity over a rolling
// 60-second window, backed by the shared cache so every gateway instance
// sees the same history.
type Counters struct {
	store          cache.Store
	errorThreshold int
	pathThreshold  int
}

// New builds Counters from configuration, applying the package defaults
// when a threshold is left at zero.
func New(store cache.Store, cfg config.AnomalyConfig) *Counters {
	errThresh := cfg.ErrorThreshold
	if errThresh == 0 {
		errThresh = config.DefaultErrorThreshold
	}
	pathThresh := cfg.PathEnumerationThreshold
	if pathThresh == 0 {
		pathThresh = config.DefaultPathEnumerationThreshold
	}
	return &Counters{store: store, errorThreshold: errThresh, pathThreshold: pathThresh}
}

// Check evaluates both windows against the client's history BEFORE this
// request is recorded, so the offending request itself is rejected (or
// admitted) consistently with what came before it, not with itself
// included.
func (c *Counters) Check(ctx context.Context, clientID, requestID string) *errors.GatewayError {
	if clientID == "" {
		return nil
	}

	// The source appends-then-checks len(...) > threshold, so the request
	// that brings the window up to threshold is the one that gets
	// blocked. Checking before recording requires the equivalent
	// boundary one count earlier: >= threshold, not > threshold.
	errorCount, err := c.countInWindow(ctx, errorKey(clientID))
	if err == nil && errorCount >= c.errorThreshold {
		return errors.ErrTooManyRequests.WithDetails("too many errors, access temporarily restricted").WithRequestID(requestID)
	}

	pathCount, err := c.countInWindow(ctx, pathKey(clientID))
	if err == nil && pathCount >= c.pathThreshold {
		return errors.ErrTooManyRequests.WithDetails("request velocity too high, access temporarily restricted").WithRequestID(requestID)
	}

	return nil
}

// Record appends this request's outcome to the client's windows, to be
// seen by the NEXT call to Check. isError marks whether the pipeline's
// inspection outcome for this request was a failure.
func (c *Counters) Record(ctx context.Context, clientID string, isError bool) {
	if clientID == "" {
		return
	}
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	if isError {
		_ = c.store.ListPushTrimExpire(ctx, errorKey(clientID), now, listBound, windowTTL)
	}
	_ = c.store.ListPushTrimExpire(ctx, pathKey(clientID), now, listBound, windowTTL)
}

func (c *Counters) countInWindow(ctx context.Context, key string) (int, error) {
	entries, err := c.store.ListRange(ctx, key)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	count := 0
	for _, e := range entries {
		nanos, perr := strconv.ParseInt(e, 10, 64)
		if perr != nil {
			continue
		}
		if now.Sub(time.Unix(0, nanos)) < window {
			count++
		}
	}
	return count, nil
}

func errorKey(clientID string) string { return "anomaly:errors:" + clientID }
func pathKey(clientID string) string  { return "anomaly:paths:" + clientID }
