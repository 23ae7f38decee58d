// Package cycle implements the watch cycle execution loop.
//
// A cycle is the unit of work behind the run endpoint: take the single-flight
// lock, discover each watched site, drop everything memory has already seen,
// compile and persist one report, then notify and publish best-effort. Every
// step after discovery is sequential on purpose; only discovery fans out.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/report"
	"github.com/veilletech/sitewatch/internal/runlock"
	"github.com/veilletech/sitewatch/internal/watch"
)

// ErrCycleRunning is returned when another cycle holds the run lock.
var ErrCycleRunning = errors.New("a watch cycle is already running")

const (
	defaultWindowDays  = 7
	defaultSiteWorkers = 4
	maxSiteWorkers     = 8
)

// Config controls Runner behavior.
type Config struct {
	// WatchListPath locates the sites/keywords JSON document.
	WatchListPath string
	// WindowDays bounds how far back discovery looks.
	WindowDays int
	// SiteWorkers bounds concurrent site discoveries.
	SiteWorkers int
	// Topic names the event topic for cycle completions. Empty disables
	// publishing.
	Topic string
	// Subject is the notification subject prefix.
	Subject string
}

// Runner executes watch cycles.
type Runner struct {
	cfg      Config
	lock     watch.Locker
	store    watch.Store
	provider watch.Provider
	enricher watch.Enricher
	compiler watch.Compiler
	notifier watch.Notifier
	pub      watch.Publisher
	clock    watch.Clock
	ids      watch.IDGenerator
	logger   *zap.Logger
}

// New constructs a Runner. enricher, notifier and pub may be nil; the
// corresponding steps are skipped.
func New(
	cfg Config,
	lock watch.Locker,
	store watch.Store,
	provider watch.Provider,
	enricher watch.Enricher,
	compiler watch.Compiler,
	notifier watch.Notifier,
	pub watch.Publisher,
	clock watch.Clock,
	ids watch.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = defaultWindowDays
	}
	if cfg.SiteWorkers <= 0 {
		cfg.SiteWorkers = defaultSiteWorkers
	}
	if cfg.SiteWorkers > maxSiteWorkers {
		cfg.SiteWorkers = maxSiteWorkers
	}
	if cfg.Subject == "" {
		cfg.Subject = "Site watch report"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		lock:     lock,
		store:    store,
		provider: provider,
		enricher: enricher,
		compiler: compiler,
		notifier: notifier,
		pub:      pub,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Run executes one watch cycle end to end. Concurrent calls are collapsed:
// the second caller gets ErrCycleRunning and no work happens. The run lock is
// released on every path, panics included. An empty cycleID gets a generated
// one; the API passes the ID it already answered with.
func (r *Runner) Run(ctx context.Context, cycleID string) (result watch.CycleResult, err error) {
	release, lockErr := r.lock.TryAcquire()
	if lockErr != nil {
		if errors.Is(lockErr, runlock.ErrHeld) {
			metrics.ObserveCycle("locked", 0)
			r.logger.Info("cycle skipped, lock already held")
			return watch.CycleResult{}, ErrCycleRunning
		}
		metrics.ObserveCycle("error", 0)
		return watch.CycleResult{}, fmt.Errorf("acquire run lock: %w", lockErr)
	}

	started := r.clock.Now()
	if cycleID == "" {
		cycleID = r.newCycleID(started)
	}
	logger := r.logger.With(zap.String("cycle_id", cycleID))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("cycle panicked", zap.Any("panic", rec), zap.Stack("stack"))
			metrics.ObserveCycle("panic", r.clock.Now().Sub(started))
			err = fmt.Errorf("cycle panicked: %v", rec)
		}
		release()
	}()

	logger.Info("cycle started")

	list, err := watch.LoadList(r.cfg.WatchListPath)
	if err != nil {
		metrics.ObserveCycle("error", r.clock.Now().Sub(started))
		return watch.CycleResult{CycleID: cycleID}, err
	}

	mem, err := r.store.Load(ctx)
	if err != nil {
		metrics.ObserveCycle("error", r.clock.Now().Sub(started))
		return watch.CycleResult{CycleID: cycleID}, fmt.Errorf("load memory: %w", err)
	}

	perSite := r.discover(ctx, logger, list)
	newItems, newURLs, discovered := dedupe(logger, mem, perSite)
	metrics.ObserveNewItems(len(newItems))

	if r.enricher != nil && len(newItems) > 0 {
		newItems = r.enricher.EnrichItems(ctx, cycleID, newItems)
	}

	reportText := r.compiler.Compile(ctx, newItems, started)

	if err := r.persist(ctx, mem, newItems, newURLs, reportText, started); err != nil {
		metrics.ObserveCycle("error", r.clock.Now().Sub(started))
		return watch.CycleResult{CycleID: cycleID}, err
	}

	notified := r.notify(ctx, logger, reportText, newItems, started)
	r.publish(ctx, logger, cycleID, len(list.Sites), newURLs, notified, started)

	duration := r.clock.Now().Sub(started)
	metrics.ObserveCycle("ok", duration)
	logger.Info("cycle finished",
		zap.Int("sites", len(list.Sites)),
		zap.Int("discovered", discovered),
		zap.Int("new_items", len(newItems)),
		zap.Bool("notified", notified),
		zap.Duration("duration", duration),
	)

	return watch.CycleResult{
		CycleID:     cycleID,
		Sites:       len(list.Sites),
		Discovered:  discovered,
		New:         len(newItems),
		ReportChars: len(reportText),
		Notified:    notified,
		Duration:    duration,
	}, nil
}

// discover fans discovery out over a bounded pool. Results come back indexed
// by site position so the merge order never depends on scheduling.
func (r *Runner) discover(ctx context.Context, logger *zap.Logger, list *watch.List) [][]watch.Item {
	results := make([][]watch.Item, len(list.Sites))
	sem := make(chan struct{}, r.cfg.SiteWorkers)
	var wg sync.WaitGroup

	for i, site := range list.Sites {
		wg.Add(1)
		go func(i int, site string) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("site discovery panicked",
						zap.String("site", site),
						zap.Any("panic", rec),
					)
				}
			}()
			sem <- struct{}{}
			defer func() { <-sem }()

			items := r.provider.DiscoverSite(ctx, site, list.Keywords, r.cfg.WindowDays)
			metrics.ObserveDiscovery(site, len(items))
			results[i] = items
		}(i, site)
	}
	wg.Wait()
	return results
}

// dedupe flattens per-site results in site order and keeps the first item for
// each normalized URL that memory has not seen. The returned URL slice is
// aligned with the item slice.
func dedupe(logger *zap.Logger, mem *watch.Memory, perSite [][]watch.Item) (items []watch.Item, urls []string, discovered int) {
	inCycle := make(map[string]struct{})
	for _, siteItems := range perSite {
		for _, item := range siteItems {
			discovered++
			link := strings.TrimSpace(item.Link)
			if link == "" {
				continue
			}
			key, err := watch.NormalizeURL(link)
			if err != nil {
				logger.Debug("link does not normalize, deduplicating on raw string",
					zap.String("link", link),
					zap.Error(err),
				)
				key = link
			}
			if _, dup := inCycle[key]; dup {
				continue
			}
			if mem.Seen(key) {
				continue
			}
			inCycle[key] = struct{}{}
			items = append(items, item)
			urls = append(urls, key)
		}
	}
	return items, urls, discovered
}

// persist folds the cycle outcome into memory and saves it exactly once.
func (r *Runner) persist(ctx context.Context, mem *watch.Memory, items []watch.Item, urls []string, reportText string, started time.Time) error {
	mem.MarkSeen(urls...)
	for i, item := range items {
		mem.Details[urls[i]] = item
	}

	entryURLs := append([]string(nil), urls...)
	sort.Strings(entryURLs)
	mem.Reports = append(mem.Reports, watch.ReportEntry{
		Timestamp: started.UTC().Format(time.RFC3339),
		NewURLs:   entryURLs,
		Report:    reportText,
	})

	if err := r.store.Save(ctx, mem); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// notify mails the report. Delivery failures are logged, never fatal: memory
// is already saved and the report stays readable through the API.
func (r *Runner) notify(ctx context.Context, logger *zap.Logger, reportText string, items []watch.Item, started time.Time) bool {
	if r.notifier == nil {
		return false
	}
	msg := watch.Message{
		Subject: fmt.Sprintf("%s (%s)", r.cfg.Subject, started.UTC().Format("2006-01-02")),
		Body:    report.RenderHTML(reportText, items),
		HTML:    true,
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		metrics.ObserveNotify("error")
		logger.Warn("notification failed", zap.Error(err))
		return false
	}
	metrics.ObserveNotify("ok")
	return true
}

// publish emits the cycle completion event. Best effort, like notify.
func (r *Runner) publish(ctx context.Context, logger *zap.Logger, cycleID string, sites int, urls []string, notified bool, started time.Time) {
	if r.pub == nil || r.cfg.Topic == "" {
		return
	}
	event := watch.CycleEvent{
		CycleID:   cycleID,
		Timestamp: started.UTC().Format(time.RFC3339),
		Sites:     sites,
		NewURLs:   append([]string{}, urls...),
		Notified:  notified,
	}
	if _, err := r.pub.Publish(ctx, r.cfg.Topic, event); err != nil {
		metrics.ObservePublish("error")
		logger.Warn("cycle event publish failed", zap.Error(err))
		return
	}
	metrics.ObservePublish("ok")
}

// newCycleID prefers a UUID and falls back to a timestamp when the generator
// cannot produce one.
func (r *Runner) newCycleID(started time.Time) string {
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("cycle id generation failed", zap.Error(err))
		return fmt.Sprintf("cycle-%d", started.UnixNano())
	}
	return id
}
