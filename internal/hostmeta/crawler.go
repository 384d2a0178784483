package hostmeta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/metrics"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/pkg/logging"
)

const (
	defaultInterval = 5 * time.Second
	probeBudget     = 750 * time.Millisecond
	serviceGrace    = 5 * time.Minute
	selfGrace       = time.Minute
	maxBodyBytes    = 1 << 16
)

// Crawler is the cache's single writer: it ticks on a timer or on an
// app-set-change signal, probes every service with no cached entry, and
// publishes the merged result.
type Crawler struct {
	cache   *Cache
	backend infra.Backend
	changes <-chan struct{}

	interval time.Duration
	started  time.Time
	now      func() time.Time

	// Metrics, if set, receives one crawl-duration observation per Tick.
	// Nil is valid: the observation is then a no-op.
	Metrics *metrics.Registry
}

// NewCrawler constructs a Crawler. changes may be nil if the caller has no
// app-set-change signal to subscribe to; the crawler still ticks on its
// own interval.
func NewCrawler(backend infra.Backend, cache *Cache, changes <-chan struct{}) *Crawler {
	return &Crawler{
		cache:    cache,
		backend:  backend,
		changes:  changes,
		interval: defaultInterval,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Run ticks once immediately, then on every interval and on every
// app-set-change signal until ctx is cancelled. Change signals are not
// debounced: each one triggers a Tick.
func (c *Crawler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		case <-c.changes:
			c.Tick(ctx)
		}
	}
}

type liveService struct {
	app model.AppName
	svc model.Service
}

// Tick runs one purge/probe/interpret/publish pass. Exported so tests and
// callers that want synchronous control can drive it directly instead of
// through Run's ticker.
func (c *Crawler) Tick(ctx context.Context) {
	start := c.now()
	defer func() { c.Metrics.ObserveCrawl(c.now().Sub(start).Seconds()) }()

	apps, err := c.backend.FetchApps(ctx)
	if err != nil {
		logging.Error("hostmeta", err, "fetching apps for crawl")
		return
	}

	live := make(map[cacheKey]liveService)
	for appName, app := range apps {
		for _, svc := range app.Services {
			if svc.Status != model.ServiceStatusRunning {
				continue
			}
			live[cacheKey{App: appName, ServiceID: svc.ID}] = liveService{app: appName, svc: svc}
		}
	}

	current := c.cache.snapshot()
	next := make(map[cacheKey]cacheValue, len(live))

	// Step 1: purge. Keep an entry only if its service is still running and
	// hasn't restarted more recently than the cached timestamp.
	for key, val := range current {
		info, ok := live[key]
		if !ok {
			continue
		}
		if info.svc.StartedAt.After(val.Timestamp) {
			continue
		}
		next[key] = val
	}

	// Step 2: determine services with no surviving cache entry.
	var missing []liveService
	for key, info := range live {
		if _, ok := next[key]; ok {
			continue
		}
		missing = append(missing, info)
	}
	if len(missing) == 0 {
		c.cache.publish(next)
		return
	}

	// Step 3/4: probe each missing service in parallel, then publish.
	results := make([]probeOutcome, len(missing))

	g, gctx := errgroup.WithContext(ctx)
	forwarder := c.backend.HTTPForwarder()
	for i, info := range missing {
		i, info := i, info
		g.Go(func() error {
			results[i] = c.probeOne(gctx, forwarder, info)
			return nil
		})
	}
	_ = g.Wait() // probeOne never returns an error; failures are interpreted inline

	for _, r := range results {
		if r.keep {
			next[r.key] = r.value
		}
	}
	c.cache.publish(next)
}

type probeOutcome struct {
	key   cacheKey
	value cacheValue
	keep  bool
}

// probeOne implements the interpret-results step for a single service.
func (c *Crawler) probeOne(ctx context.Context, forwarder infra.Forwarder, info liveService) probeOutcome {
	key := cacheKey{App: info.app, ServiceID: info.svc.ID}
	now := c.now()

	reqCtx, cancel := context.WithTimeout(ctx, probeBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+info.svc.ServiceName+"/.well-known/host-meta.json", nil)
	if err == nil {
		req.Header.Set("Accept", "application/json")
		resp, forwardErr := forwarder.Forward(reqCtx, info.app, info.svc.ServiceName, req)
		if forwardErr == nil {
			meta, ok := interpretResponse(resp)
			if ok {
				return probeOutcome{key: key, value: cacheValue{Timestamp: now, Meta: meta}, keep: true}
			}
			err = fmt.Errorf("probe of %s returned status %d", info.svc.ServiceName, resp.StatusCode)
		} else {
			err = forwardErr
		}
	}

	if c.withinStartupGrace(info.svc) {
		return probeOutcome{keep: false}
	}
	logging.Debug("hostmeta", "probe of %s/%s gave up: %v", info.app, info.svc.ServiceName, err)
	return probeOutcome{key: key, value: cacheValue{Timestamp: now, Meta: model.EmptyWebHostMeta()}, keep: true}
}

// interpretResponse applies the 2xx-parseable / 2xx-unparseable split of the
// interpret-results step; any other status is treated as a probe failure by
// the caller.
func interpretResponse(resp *http.Response) (model.WebHostMeta, bool) {
	if resp == nil {
		return model.WebHostMeta{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.WebHostMeta{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return model.EmptyWebHostMeta(), true
	}
	meta, err := model.ParseWebHostMeta(body)
	if err != nil {
		return model.EmptyWebHostMeta(), true
	}
	return meta, true
}

// withinStartupGrace reports whether a failed probe should be left absent
// rather than cached as empty: the service is young and PREvant itself has
// only just started, so the service's endpoint may simply not be ready yet.
func (c *Crawler) withinStartupGrace(svc model.Service) bool {
	return c.now().Sub(svc.StartedAt) < serviceGrace && c.now().Sub(c.started) < selfGrace
}
