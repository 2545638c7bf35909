// Package aggregate implements the gateway's backend-for-frontend fan-out
// engine: a single public endpoint that dispatches several backend queries
// in parallel, reshapes each response, and returns one combined document.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/logging"
	"github.com/veilgate/gateway/internal/reqctx"

	"go.uber.org/zap"
)

const fanoutDeadline = 5 * time.Second

const defaultCacheTTL = 60 * time.Second

// placeholderPattern matches a dotted reference like {jwt.user_id} or
// {path_params.id} inside a query's URL, params, or body.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}`)

// Endpoint serves one configured Aggregation.
type Endpoint struct {
	def    config.Aggregation
	client *http.Client
	store  cache.Store

	// OnBackendError, if set, is called with a query's name whenever its
	// backend call fails or returns a >=400 status. Used to feed the
	// aggregation backend error metric; nil is a valid no-op.
	OnBackendError func(query string)
}

// New builds an Endpoint from its declarative definition. store may be
// nil, in which case response caching is disabled regardless of
// CacheTTLSeconds.
func New(def config.Aggregation, store cache.Store) *Endpoint {
	return &Endpoint{
		def:    def,
		client: &http.Client{Timeout: fanoutDeadline},
		store:  store,
	}
}

// PublicPath returns the path this endpoint is registered under.
func (e *Endpoint) PublicPath() string {
	return e.def.PublicPath
}

// ServeHTTP enforces the endpoint's required role, dispatches every
// configured Query in parallel under a shared deadline, and writes the
// combined result.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, req *http.Request, pathParams map[string]string) {
	state := reqctx.From(req)

	if gwErr := e.checkRole(state); gwErr != nil {
		gwErr.WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	queryParams := map[string]interface{}{}
	for k, v := range req.URL.Query() {
		if len(v) == 1 {
			queryParams[k] = v[0]
		} else {
			queryParams[k] = v
		}
	}
	pp := map[string]interface{}{}
	for k, v := range pathParams {
		pp[k] = v
	}

	tmplCtx := map[string]interface{}{
		"jwt":          toInterfaceMap(state.Claims),
		"path_params":  pp,
		"query_params": queryParams,
	}

	userID := state.UserID()
	if userID == "" {
		userID = "anon"
	}

	if e.cacheEnabled() {
		key := e.cacheKey(userID)
		if cached, ok, err := e.store.Get(req.Context(), key); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Aggregate-Cache", "hit")
			_, _ = w.Write(cached)
			return
		}
	}

	ctx, cancel := context.WithTimeout(req.Context(), fanoutDeadline)
	defer cancel()

	results := make([]json.RawMessage, len(e.def.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i := range e.def.Queries {
		i := i
		g.Go(func() error {
			// dispatch never returns an error: per-query failures become
			// JSON error payloads so one slow or broken backend never
			// aborts its siblings through errgroup's cancel-on-error.
			results[i] = e.dispatch(gctx, e.def.Queries[i], tmplCtx)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		errors.ErrGatewayTimeout.WithDetails("aggregation did not complete within the fan-out deadline").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	out := []byte("{}")
	for i, q := range e.def.Queries {
		var err error
		out, err = sjson.SetRawBytes(out, q.Name, results[i])
		if err != nil {
			logging.Error("aggregate: failed assembling result", zap.String("query", q.Name), zap.Error(err))
		}
	}

	if e.cacheEnabled() {
		_ = e.store.Set(req.Context(), e.cacheKey(userID), out, e.cacheTTL())
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// checkRole gates on the authenticated end user's JWT role, not the
// calling ApiClient's role: required_role names a user role, and
// "mobile_guest" admits anonymous callers. A non-guest endpoint with no
// JWT claims is an authentication failure (401), not an authorization
// one (403).
func (e *Endpoint) checkRole(state *reqctx.State) *errors.GatewayError {
	if e.def.RequiredRole == "" || e.def.RequiredRole == config.MobileGuestRole {
		return nil
	}
	if len(state.Claims) == 0 {
		return errors.ErrUnauthorized.WithDetails("authentication required for this aggregation")
	}
	if state.UserRole() != e.def.RequiredRole {
		return errors.ErrForbidden.WithDetails("role not permitted for this aggregation")
	}
	return nil
}

// dispatch renders and executes one Query against tmplCtx, returning a
// JSON value suitable to embed directly under the query's name in the
// combined result. It never returns an error: every failure mode is
// encoded as a JSON error object instead, so one backend's failure
// never aborts the rest of the fan-out.
func (e *Endpoint) dispatch(ctx context.Context, q config.Query, tmplCtx map[string]interface{}) json.RawMessage {
	url, _ := substitute(q.BackendURL, tmplCtx).(string)

	var bodyReader *bytes.Reader
	method := strings.ToUpper(q.HTTPMethod)
	if method == "" {
		method = http.MethodGet
	}

	if method == http.MethodGet || method == http.MethodDelete {
		if len(q.Params) > 0 {
			rendered := substitute(q.Params, tmplCtx)
			url = appendQueryParams(url, rendered)
		}
		bodyReader = bytes.NewReader(nil)
	} else {
		payload := q.Body
		if payload == nil {
			payload = q.Params
		}
		rendered := substitute(payload, tmplCtx)
		encoded, err := json.Marshal(rendered)
		if err != nil {
			e.reportBackendError(q.Name)
			return errResult("backend unreachable")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		e.reportBackendError(q.Name)
		return errResult("backend unreachable")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.reportBackendError(q.Name)
		return errResult("backend unreachable")
	}
	defer resp.Body.Close()

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	if resp.StatusCode >= 400 {
		e.reportBackendError(q.Name)
		raw, _ := sjson.SetBytes([]byte("{}"), "error", fmt.Sprintf("backend error: %d", resp.StatusCode))
		raw, _ = sjson.SetRawBytes(raw, "detail", quoteIfNotJSON(body))
		return raw
	}

	return applyAdapter(body, q.Adapter)
}

func (e *Endpoint) reportBackendError(query string) {
	if e.OnBackendError != nil {
		e.OnBackendError(query)
	}
}

func quoteIfNotJSON(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if gjson.ValidBytes(trimmed) {
		return trimmed
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}

func errResult(msg string) json.RawMessage {
	raw, _ := sjson.SetBytes([]byte("{}"), "error", msg)
	return raw
}

// applyAdapter applies adapter's select/rename to a successful response
// body. A list response is adapted element-wise. A nil adapter passes
// the body through unchanged.
func applyAdapter(body []byte, adapter *config.Adapter) json.RawMessage {
	if adapter == nil {
		if gjson.ValidBytes(bytes.TrimSpace(body)) {
			return json.RawMessage(bytes.TrimSpace(body))
		}
		encoded, _ := json.Marshal(string(body))
		return encoded
	}

	result := gjson.ParseBytes(body)
	if result.IsArray() {
		out := "[]"
		for _, elem := range result.Array() {
			adapted := applyAdapterObject(elem, adapter)
			var err error
			out, err = sjson.SetRaw(out, "-1", adapted)
			if err != nil {
				continue
			}
		}
		return json.RawMessage(out)
	}

	return json.RawMessage(applyAdapterObject(result, adapter))
}

func applyAdapterObject(result gjson.Result, adapter *config.Adapter) string {
	out := "{}"

	fields := adapter.Select
	if len(fields) == 0 {
		result.ForEach(func(key, value gjson.Result) bool {
			fields = append(fields, key.String())
			return true
		})
	}

	for _, field := range fields {
		v := result.Get(field)
		if !v.Exists() {
			continue
		}
		outKey := field
		if renamed, ok := adapter.Rename[field]; ok {
			outKey = renamed
		}
		var err error
		out, err = sjson.SetRaw(out, outKey, v.Raw)
		if err != nil {
			continue
		}
	}
	return out
}

// substitute walks v, replacing every {a.b.c}-style placeholder found in
// a string leaf with its resolved value from ctx. Unresolved references
// become the empty string. Non-string leaves pass through unchanged.
func substitute(v interface{}, ctx map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return substituteString(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = substitute(vv, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = substitute(vv, ctx)
		}
		return out
	default:
		return val
	}
}

func substituteString(s string, ctx map[string]interface{}) interface{} {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}
	// A string that is entirely one placeholder resolves to the
	// underlying value's native type instead of being stringified.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		if resolved, ok := resolvePath(path, ctx); ok {
			return resolved
		}
		return ""
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		if resolved, ok := resolvePath(path, ctx); ok {
			b.WriteString(stringify(resolved))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func resolvePath(path string, ctx map[string]interface{}) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.Trim(string(encoded), `"`)
	}
}

func appendQueryParams(url string, rendered interface{}) string {
	m, ok := rendered.(map[string]interface{})
	if !ok || len(m) == 0 {
		return url
	}
	var b strings.Builder
	b.WriteString(url)
	if strings.Contains(url, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	first := true
	for k, v := range m {
		if !first {
			b.WriteString("&")
		}
		first = false
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(stringify(v))
	}
	return b.String()
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func (e *Endpoint) cacheEnabled() bool {
	return e.store != nil && e.def.CacheTTLSeconds > 0
}

func (e *Endpoint) cacheTTL() time.Duration {
	if e.def.CacheTTLSeconds <= 0 {
		return defaultCacheTTL
	}
	return time.Duration(e.def.CacheTTLSeconds) * time.Second
}

// cacheKey hashes (public_path, user_id_or_anon) into a compact store
// key, matching the source aggregator's per-user response cache scoping.
func (e *Endpoint) cacheKey(userID string) string {
	raw := e.def.PublicPath + ":" + userID
	return "agg:" + strconv.FormatUint(xxhash.Sum64String(raw), 16)
}
