package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

// Resource kinds eligible for runtime caching.
const (
	KindDocument = "document"
	KindStyle    = "style"
	KindScript   = "script"
	KindImage    = "image"
	KindOther    = "other"
)

const offlineShellURL = "/"

// Proxy fronts all document/asset traffic to the upstream server with a
// network-first strategy: live responses win, the versioned response cache
// is the fallback, and a request never ends without some usable response.
type Proxy struct {
	store     store.Store
	upstream  *url.URL
	client    *http.Client
	apiPrefix string

	// current holds the install-time precache, runtime the responses cloned
	// off live traffic. Activation evicts every other generation.
	current string
	runtime string

	required   []string
	bestEffort []string
}

func NewProxy(cfg config.CacheConfig, upstreamBase string, timeout time.Duration, st store.Store) (*Proxy, error) {
	u, err := url.Parse(upstreamBase)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}

	bestEffort := append([]string{}, cfg.OptionalAssets...)
	bestEffort = append(bestEffort, cfg.PrecachedRoutes...)

	return &Proxy{
		store:     st,
		upstream:  u,
		apiPrefix: cfg.APIPrefix,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		current:    "store-billing-" + cfg.Version,
		runtime:    "store-runtime-" + cfg.Version,
		required:   cfg.RequiredAssets,
		bestEffort: bestEffort,
	}, nil
}

func (p *Proxy) CurrentGeneration() string { return p.current }
func (p *Proxy) RuntimeGeneration() string { return p.runtime }

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only GETs are intercepted; everything else goes straight upstream.
	if r.Method != http.MethodGet {
		p.passThrough(w, r)
		return
	}

	// API traffic bypasses the cache layer entirely; offline behavior for the
	// API lives in the local store and queue, not here.
	if strings.HasPrefix(r.URL.Path, p.apiPrefix) {
		p.passThrough(w, r)
		return
	}

	key := r.URL.RequestURI()
	kind := kindOf(r)

	resp, body, err := p.fetch(r)
	if err != nil {
		p.serveFallback(w, r, key, kind)
		return
	}

	if resp.StatusCode == http.StatusOK {
		if cacheable(kind) {
			p.cloneIntoRuntime(r.Context(), key, kind, resp, body)
		}
		writeResponse(w, resp.StatusCode, resp.Header, body)
		return
	}

	// Non-200 from a live server: prefer whatever we cached earlier, else
	// hand the live response through.
	if entry, err := p.store.GetCacheEntry(r.Context(), key); err == nil {
		serveEntry(w, entry)
		return
	}
	writeResponse(w, resp.StatusCode, resp.Header, body)
}

// serveFallback handles a dead network: cached match, then the cached root
// document as an offline shell for document requests, then a synthetic 503.
func (p *Proxy) serveFallback(w http.ResponseWriter, r *http.Request, key, kind string) {
	if entry, err := p.store.GetCacheEntry(r.Context(), key); err == nil {
		serveEntry(w, entry)
		return
	}

	if kind == KindDocument {
		if entry, err := p.store.GetCacheEntry(r.Context(), offlineShellURL); err == nil {
			serveEntry(w, entry)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Offline"))
}

func (p *Proxy) fetch(r *http.Request) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, p.upstreamURL(r.URL.RequestURI()), nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (p *Proxy) cloneIntoRuntime(ctx context.Context, key, kind string, resp *http.Response, body []byte) {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		logger.Log.Warn("Failed to serialize response headers", zap.String("url", key), zap.Error(err))
		return
	}

	entry := &store.CacheEntry{
		URL:        key,
		Generation: p.runtime,
		Status:     resp.StatusCode,
		Headers:    headers,
		Body:       body,
		Kind:       kind,
		FetchedAt:  time.Now().UTC(),
	}
	if err := p.store.PutCacheEntry(ctx, entry); err != nil {
		// Caching is opportunistic; the live response already went out.
		logger.Log.Warn("Failed to cache response", zap.String("url", key), zap.Error(err))
	}
}

// passThrough relays the request upstream without touching the cache. A dead
// upstream still yields a response, a 502 naming the failure.
func (p *Proxy) passThrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, p.upstreamURL(r.URL.RequestURI()), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("upstream unreachable: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (p *Proxy) upstreamURL(requestURI string) string {
	return strings.TrimRight(p.upstream.String(), "/") + requestURI
}

func serveEntry(w http.ResponseWriter, entry *store.CacheEntry) {
	var headers http.Header
	if err := json.Unmarshal(entry.Headers, &headers); err == nil {
		copyHeaders(w.Header(), headers)
	}
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func writeResponse(w http.ResponseWriter, status int, headers http.Header, body []byte) {
	copyHeaders(w.Header(), headers)
	w.WriteHeader(status)
	w.Write(body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cacheable(kind string) bool {
	switch kind {
	case KindDocument, KindStyle, KindScript, KindImage:
		return true
	}
	return false
}

// kindOf classifies a request the way a browser's destination hint would,
// from the path extension with the Accept header as tie-breaker.
func kindOf(r *http.Request) string {
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".css":
		return KindStyle
	case ".js", ".mjs":
		return KindScript
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp":
		return KindImage
	case ".html", ".htm", "":
		if accept := r.Header.Get("Accept"); accept != "" && !strings.Contains(accept, "text/html") && accept != "*/*" {
			return KindOther
		}
		return KindDocument
	}
	return KindOther
}
