package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"possync/internal/app/agent/bus"
)

// InstallReport summarizes one precache pass.
type InstallReport struct {
	PagesCached int
	TotalPages  int
	APICached   int
	Ready       bool
}

// Install precaches the fixed route and API manifests. Per-URL failures are
// logged, not fatal; readiness requires every critical page. Progress is
// reported to the foreground per stage.
func (g *Gateway) Install(ctx context.Context) *InstallReport {
	report := &InstallReport{TotalPages: len(g.cfg.PrecacheRoutes)}
	cachedPages := make(map[string]bool, len(g.cfg.PrecacheRoutes))

	for i, route := range g.cfg.PrecacheRoutes {
		ok := g.fetchAndStore(ctx, route, g.generalCache(), "text/html")
		if ok {
			report.PagesCached++
			cachedPages[route] = true
		} else {
			g.log.Warn("precache route failed", "route", route)
		}
		g.broadcast(bus.NewPrecacheProgress("pages", i+1, len(g.cfg.PrecacheRoutes)))
	}

	for i, endpoint := range g.cfg.PrecacheAPI {
		ok := g.fetchAndStore(ctx, endpoint, g.apiCache(), "application/json")
		if ok {
			report.APICached++
		} else {
			g.log.Warn("precache endpoint failed", "endpoint", endpoint)
		}
		g.broadcast(bus.NewPrecacheProgress("api", i+1, len(g.cfg.PrecacheAPI)))
	}

	report.Ready = true
	for _, page := range g.cfg.CriticalPages {
		if !cachedPages[page] {
			report.Ready = false
			break
		}
	}

	g.broadcast(bus.NewPrecacheComplete(report.PagesCached, report.TotalPages, report.Ready))
	g.log.Info("precache finished",
		"pages", report.PagesCached,
		"total", report.TotalPages,
		"api", report.APICached,
		"ready", report.Ready,
	)
	return report
}

// fetchAndStore fetches one URL and stores a 200 into the named cache. The
// initial try is followed by one retry per configured backoff delay.
func (g *Gateway) fetchAndStore(ctx context.Context, url, cacheName, accept string) bool {
	for attempt := 0; attempt <= len(g.cfg.RetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.cfg.RetryDelays[attempt-1]):
			case <-ctx.Done():
				return false
			}
		}

		resp, err := g.upstream.Get(ctx, url, accept)
		if err != nil {
			continue
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if err := g.cache.Put(ctx, cacheName, url, snapshotResponse(resp, body)); err != nil {
			g.log.Warn("precache store failed", "url", url, "error", err)
			return false
		}
		return true
	}
	return false
}

// Activate evicts every cache generation not matching the current version
// tag, guaranteeing a single live generation.
func (g *Gateway) Activate(ctx context.Context) error {
	names, err := g.cache.Names(ctx)
	if err != nil {
		return err
	}

	keep := map[string]bool{
		g.generalCache(): true,
		g.apiCache():     true,
	}
	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := g.cache.DeleteName(ctx, name); err != nil {
			g.log.Warn("stale cache eviction failed", "cache", name, "error", err)
			continue
		}
		g.log.Info("stale cache evicted", "cache", name)
	}
	return nil
}

func (g *Gateway) broadcast(msg bus.Message) {
	if g.bus != nil {
		g.bus.Broadcast(msg)
	}
}
