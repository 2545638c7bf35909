// Package proxy implements the gateway's catch-all reverse-proxy leg: it
// forwards a request that has passed every inspector to the configured
// upstream, then runs the response through the PII transformer before
// relaying it to the caller.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/logging"
	"github.com/veilgate/gateway/internal/redact"
	"github.com/veilgate/gateway/internal/reqctx"

	"go.uber.org/zap"
)

// hopByHopHeaders are stripped from the response before it's relayed:
// the RFC 7230 §6.1 connection-scoped set, plus content-encoding and
// content-length — this proxy re-serializes the body after redaction,
// so any original content-length is always wrong and the body is never
// still encoded by the time it reaches the caller.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Encoding",
	"Content-Length",
}

// Proxy forwards requests to one configured upstream.
type Proxy struct {
	upstream *url.URL
	client   *http.Client
	purifier *redact.Purifier
}

// New builds a Proxy from configuration. purifier may be nil, in which
// case responses are relayed unredacted.
func New(cfg config.ProxyConfig, purifier *redact.Purifier) (*Proxy, error) {
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		upstream: u,
		client:   &http.Client{Timeout: 30 * time.Second},
		purifier: purifier,
	}, nil
}

// ServeHTTP forwards req to the upstream, redacts the response, and
// writes it to w. The caller is expected to have already run req through
// the inspection pipeline.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	state := reqctx.From(req)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		errors.ErrBadRequest.WithDetails("could not read request body").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	upstreamReq, err := p.buildUpstreamRequest(req, body)
	if err != nil {
		errors.ErrInternalServer.WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		logging.Error("proxy: backend unavailable", zap.String("upstream", p.upstream.String()), zap.Error(err))
		errors.ErrServiceUnavailable.WithDetails("backend unavailable").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		errors.ErrBadGateway.WithDetails("could not read backend response").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	if p.purifier != nil {
		respBody = p.purifier.Purify(state.Role(), respBody, state.ClientID(), state.RequestID)
	}

	relayHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(respBody)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (p *Proxy) buildUpstreamRequest(req *http.Request, body []byte) (*http.Request, error) {
	target := *p.upstream
	target.Path = joinPath(p.upstream.Path, req.URL.Path)
	target.RawQuery = req.URL.RawQuery

	upstreamReq, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	upstreamReq.Header = req.Header.Clone()
	return upstreamReq, nil
}

func joinPath(base, tail string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(tail, "/")
}

func relayHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
