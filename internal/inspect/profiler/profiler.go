// Package profiler builds a per-client behavioral fingerprint and flags
// two kinds of suspicious behavior: a changing client fingerprint
// (User-Agent/Accept-Language) mid-session, and a high-entropy, scanning
// pattern of requested paths.
package profiler

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/logging"

	"go.uber.org/zap"
)

const (
	fingerprintTTL = time.Hour
	pathHistoryTTL = time.Hour
	pathHistoryLen = 20
)

// Profiler tracks per-client fingerprints and path-request entropy in the
// shared cache. If the cache is not shared (no Redis configured), it
// degrades to a no-op and logs one warning instead of drifting out of
// sync across gateway instances.
type Profiler struct {
	store   cache.Store
	cfg     config.ProfilerConfig
	auditor *audit.Logger

	warnOnce sync.Once
}

// New builds a Profiler. cfg.MaxPathEntropy of 0 disables the entropy
// check (treated as "no limit configured" rather than "always fail").
func New(store cache.Store, cfg config.ProfilerConfig, auditor *audit.Logger) *Profiler {
	return &Profiler{store: store, cfg: cfg, auditor: auditor}
}

// Check records the current request's fingerprint and path segment, and
// fails the request if either check configured in cfg fires.
func (p *Profiler) Check(ctx context.Context, req *http.Request, clientID, peerAddr, requestID string) *errors.GatewayError {
	if !cache.Shared(p.store) {
		p.warnOnce.Do(func() {
			logging.Warn("profiler: no shared cache configured, skipping behavioral profiling")
		})
		return nil
	}
	if clientID == "" {
		return nil
	}

	profileKey := "profile:" + clientID
	pathHistoryKey := "profile:paths:" + clientID

	currentFingerprint := req.Header.Get("user-agent") + req.Header.Get("accept-language")

	existing, err := p.store.HGetAll(ctx, profileKey)
	if err != nil {
		logging.Warn("profiler: could not read fingerprint", zap.Error(err))
		return nil
	}

	existingFingerprint, seen := existing["fingerprint"]
	if !seen {
		if err := p.store.HSetWithExpire(ctx, profileKey, map[string]string{"fingerprint": currentFingerprint}, fingerprintTTL); err != nil {
			logging.Warn("profiler: could not store fingerprint", zap.Error(err))
		}
		return nil
	}

	if p.cfg.EnforceHeaderConsistency && existingFingerprint != currentFingerprint {
		p.emit(req, clientID, peerAddr, requestID, "client fingerprint changed")
		return errors.ErrForbidden.WithDetails("client fingerprint has changed, please re-authenticate").WithRequestID(requestID)
	}

	pathSegment := firstPathSegment(req.URL.Path)
	if err := p.store.ListPushTrimExpire(ctx, pathHistoryKey, pathSegment, pathHistoryLen, pathHistoryTTL); err != nil {
		logging.Warn("profiler: could not update path history", zap.Error(err))
		return nil
	}

	history, err := p.store.ListRange(ctx, pathHistoryKey)
	if err != nil {
		logging.Warn("profiler: could not read path history", zap.Error(err))
		return nil
	}

	if p.cfg.MaxPathEntropy <= 0 {
		return nil
	}

	entropy := shannonEntropy(history)
	if entropy > p.cfg.MaxPathEntropy {
		p.emit(req, clientID, peerAddr, requestID, "suspicious browsing pattern (high entropy)")
		return errors.ErrForbidden.WithDetails("suspicious browsing pattern detected").WithRequestID(requestID)
	}

	return nil
}

func firstPathSegment(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if parts[0] == "" {
		return "root"
	}
	return parts[0]
}

// shannonEntropy computes H = -Σ p·log2(p) over the frequency distribution
// of data's elements.
func shannonEntropy(data []string) float64 {
	if len(data) == 0 {
		return 0
	}

	freq := make(map[string]int, len(data))
	for _, item := range data {
		freq[item]++
	}

	total := float64(len(data))
	var entropy float64
	for _, count := range freq {
		prob := float64(count) / total
		entropy -= prob * math.Log2(prob)
	}
	return entropy
}

func (p *Profiler) emit(req *http.Request, clientID, peerAddr, requestID, detail string) {
	if p.auditor == nil {
		return
	}
	p.auditor.Emit(audit.Event{
		Event:     "behavioral_anomaly",
		ClientID:  clientID,
		PeerAddr:  peerAddr,
		Path:      req.URL.Path,
		Method:    req.Method,
		Detail:    detail,
		RequestID: requestID,
	})
}
