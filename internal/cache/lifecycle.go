package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

// Install pre-populates the current generation. Every required asset must be
// fetched and stored or the install fails; best-effort assets (icons,
// pre-rendered routes) are logged and skipped on failure.
func (p *Proxy) Install(ctx context.Context) error {
	logger.Log.Info("Installing cache generation", zap.String("generation", p.current))

	for _, asset := range p.required {
		if err := p.precache(ctx, asset); err != nil {
			return fmt.Errorf("required asset %s failed: %w", asset, err)
		}
	}

	for _, asset := range p.bestEffort {
		if err := p.precache(ctx, asset); err != nil {
			logger.Log.Warn("Optional asset not cached",
				zap.String("url", asset), zap.Error(err))
		}
	}

	logger.Log.Info("Cache install complete",
		zap.Int("required", len(p.required)),
		zap.Int("bestEffort", len(p.bestEffort)),
	)
	return nil
}

// Activate evicts every generation except the current pair. After this the
// proxy serves all traffic; no restart is needed.
func (p *Proxy) Activate(ctx context.Context) error {
	generations, err := p.store.ListCacheGenerations(ctx)
	if err != nil {
		return err
	}

	for _, g := range generations {
		if g != p.current && g != p.runtime {
			logger.Log.Info("Deleting stale cache generation", zap.String("generation", g))
		}
	}

	if err := p.store.DeleteCacheGenerationsExcept(ctx, []string{p.current, p.runtime}); err != nil {
		return fmt.Errorf("failed to evict stale generations: %w", err)
	}
	return nil
}

func (p *Proxy) precache(ctx context.Context, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.upstreamURL(asset), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}

	fakeReq, _ := http.NewRequest(http.MethodGet, asset, nil)
	return p.store.PutCacheEntry(ctx, &store.CacheEntry{
		URL:        asset,
		Generation: p.current,
		Status:     resp.StatusCode,
		Headers:    headers,
		Body:       body,
		Kind:       kindOf(fakeReq),
		FetchedAt:  time.Now().UTC(),
	})
}
