// Package cartographer maintains the gateway's view of which
// "METHOD path" pairs are documented (KNOWN) versus discovered at
// runtime but undocumented (SHADOW).
package cartographer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
)

// Cartographer holds the two endpoint sets. KNOWN is swapped atomically as a
// whole (copy-on-write); SHADOW grows at runtime and is a concurrent
// set since many goroutines may discover distinct shadow endpoints at
// once.
type Cartographer struct {
	known  atomic.Pointer[map[string]struct{}]
	shadow sync.Map // string -> struct{}

	onShadow config.ShadowAPIPolicy
	auditor  *audit.Logger
	client   *http.Client
}

// New creates a Cartographer with an empty KNOWN set.
func New(onShadow config.ShadowAPIPolicy, auditor *audit.Logger, client *http.Client) *Cartographer {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Cartographer{onShadow: onShadow, auditor: auditor, client: client}
	empty := map[string]struct{}{}
	c.known.Store(&empty)
	return c
}

func endpointKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// LoadFromURL fetches an OpenAPI document from url and populates KNOWN.
func (c *Cartographer) LoadFromURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("cartographer: building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cartographer: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cartographer: reading %s: %w", url, err)
	}
	return c.ReplaceKnown(ctx, body)
}

// LoadFromFile reads an OpenAPI document from a local path and populates KNOWN.
func (c *Cartographer) LoadFromFile(ctx context.Context, path string) error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("cartographer: loading %s: %w", path, err)
	}
	known, err := endpointsFromDoc(doc)
	if err != nil {
		return err
	}
	c.known.Store(&known)
	c.shadow.Range(func(key, _ any) bool {
		c.shadow.Delete(key)
		return true
	})
	return nil
}

// ReplaceKnown parses raw as an OpenAPI document and atomically replaces
// KNOWN and clearing SHADOW, so a promoted endpoint stops being flagged.
func (c *Cartographer) ReplaceKnown(_ context.Context, raw []byte) error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return fmt.Errorf("cartographer: parsing OpenAPI document: %w", err)
	}
	known, err := endpointsFromDoc(doc)
	if err != nil {
		return err
	}

	c.known.Store(&known)
	c.shadow.Range(func(key, _ any) bool {
		c.shadow.Delete(key)
		return true
	})
	return nil
}

// KnownCount reports the size of the current KNOWN set, for the admin
// mutation's audit event.
func (c *Cartographer) KnownCount() int {
	return len(*c.known.Load())
}

func endpointsFromDoc(doc *openapi3.T) (map[string]struct{}, error) {
	if doc.Paths == nil {
		return nil, fmt.Errorf("cartographer: OpenAPI document has no paths")
	}
	known := make(map[string]struct{})
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			known[endpointKey(method, path)] = struct{}{}
		}
	}
	return known, nil
}

// Check reports whether method+path is in KNOWN or already-discovered
// SHADOW. The first time an undocumented endpoint is seen it is inserted
// into SHADOW and a critical audit event is emitted; if the configured
// policy is "block" the caller must treat the returned error as terminal.
func (c *Cartographer) Check(method, path, clientID, peerAddr, requestID string) *errors.GatewayError {
	key := endpointKey(method, path)

	known := *c.known.Load()
	if _, ok := known[key]; ok {
		return nil
	}

	_, alreadyShadow := c.shadow.LoadOrStore(key, struct{}{})
	if alreadyShadow {
		return nil
	}

	if c.auditor != nil {
		c.auditor.Emit(audit.Event{
			Event:     audit.EventShadowAPIDiscovered,
			ClientID:  clientID,
			PeerAddr:  peerAddr,
			Path:      path,
			Method:    method,
			Detail:    "undocumented endpoint observed",
			RequestID: requestID,
		})
	}

	if c.onShadow == config.ShadowPolicyBlock {
		return errors.ErrNotImplemented.WithDetails("shadow API: " + key)
	}
	return nil
}
