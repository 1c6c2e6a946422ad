package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Naeem401/sport-server/internal/cache"
	"github.com/Naeem401/sport-server/internal/logging"
	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/telemetry"
	"github.com/Naeem401/sport-server/internal/upstream"
)

// timeNow is swappable in tests so the fallback window is deterministic.
var timeNow = time.Now

// Config contains fetch coordinator configuration
type Config struct {
	// Freshness window for cached datasets
	TTL time.Duration

	// Result count at which the provider is assumed to have truncated
	MaxLimit int

	// Width of the fallback-by-date window, centered on today
	FallbackWindowDays int

	// Sports accepted as topic domains; anything else is an invalid topic
	KnownSports []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		TTL:                60 * time.Second,
		MaxLimit:           500,
		FallbackWindowDays: 7,
		KnownSports:        []string{"football", "basketball", "tennis", "cricket", "hockey"},
	}
}

// Coordinator orchestrates cache-check, upstream fetch, fallback-by-date
// and cache-store for one topic at a time. Two concurrent triggers for the
// same key may both reach the upstream; the last write wins. There is
// deliberately no single-flight deduplication here.
type Coordinator struct {
	config  Config
	cache   *cache.Cache
	client  upstream.Client
	known   map[string]struct{}
	metrics *metrics.Metrics
}

// New creates a fetch coordinator.
func New(config Config, c *cache.Cache, client upstream.Client) *Coordinator {
	defaults := DefaultConfig()
	if config.TTL == 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxLimit == 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if config.FallbackWindowDays == 0 {
		config.FallbackWindowDays = defaults.FallbackWindowDays
	}
	if len(config.KnownSports) == 0 {
		config.KnownSports = defaults.KnownSports
	}

	known := make(map[string]struct{}, len(config.KnownSports))
	for _, sport := range config.KnownSports {
		known[sport] = struct{}{}
	}

	return &Coordinator{
		config:  config,
		cache:   c,
		client:  client,
		known:   known,
		metrics: metrics.GetMetrics(),
	}
}

// logger derives a request-scoped logger so fetch-path entries carry the
// resolve span's trace ids.
func (f *Coordinator) logger(ctx context.Context) zerolog.Logger {
	return logging.FromContext(ctx).With().Str("component", "fetcher").Logger()
}

// TTL returns the configured freshness window.
func (f *Coordinator) TTL() time.Duration {
	return f.config.TTL
}

// Resolve returns the current dataset for (topic, params): a fresh cache
// hit when one exists, otherwise the result of an upstream fetch written
// back to the cache. Callers receive either a valid payload or an error,
// never a silent partial success.
func (f *Coordinator) Resolve(ctx context.Context, topic model.Topic, params map[string]string) ([]model.Record, error) {
	ctx, span := telemetry.Tracer("fetcher").Start(ctx, "resolve",
		trace.WithAttributes(attribute.String("topic", topic.String())))
	defer span.End()

	if _, ok := f.known[topic.Sport]; !ok {
		return nil, fmt.Errorf("%w: %q", upstream.ErrInvalidTopic, topic.Sport)
	}

	key := cache.BuildKey(topic, params)
	entry, found := f.cache.Get(key)
	if found && cache.IsFresh(entry, f.config.TTL) {
		f.metrics.ResolveTotal.WithLabelValues("cache_hit").Inc()
		return entry.Payload, nil
	}

	records, err := f.fetch(ctx, topic, params)
	if err != nil {
		// Rejected failures already had their one fallback retry; surface
		// them. Everything else degrades to the stale entry when one exists.
		if found && !upstream.IsRejected(err) {
			f.metrics.CacheStaleServed.Inc()
			f.metrics.ResolveTotal.WithLabelValues("stale").Inc()
			logger := f.logger(ctx)
			logger.Warn().
				Err(err).
				Str("topic", topic.String()).
				Time("fetched_at", entry.FetchedAt).
				Msg("Upstream unavailable, serving stale cache entry")
			return entry.Payload, nil
		}
		f.metrics.ResolveTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// The cache write precedes any broadcast the caller performs, so a
	// client reading the cache after a broadcast sees data at least as
	// fresh as the broadcast.
	f.cache.Put(key, records)
	f.metrics.ResolveTotal.WithLabelValues("fetched").Inc()
	return records, nil
}

// Snapshot returns the canonical cached entry for a topic without forcing
// a fetch.
func (f *Coordinator) Snapshot(topic model.Topic) (cache.Entry, bool) {
	return f.cache.Get(cache.BuildKey(topic, nil))
}

// fetch performs the upstream call, switching to fallback-by-date when the
// single call looks truncated or was rejected.
func (f *Coordinator) fetch(ctx context.Context, topic model.Topic, params map[string]string) ([]model.Record, error) {
	if topic.IsEvent() {
		// detail calls are single-item; no limit, no truncation heuristic
		return f.client.Fetch(ctx, topic, params)
	}

	callParams := cloneParams(params)
	callParams["limit"] = fmt.Sprintf("%d", f.config.MaxLimit)

	records, err := f.client.Fetch(ctx, topic, callParams)
	if err != nil {
		if upstream.IsRejected(err) {
			logger := f.logger(ctx)
			logger.Warn().
				Err(err).
				Str("topic", topic.String()).
				Msg("Upstream rejected single call, retrying by date")
			return f.fetchByDate(ctx, topic, params)
		}
		return nil, err
	}

	if len(records) >= f.config.MaxLimit {
		// the single-call endpoint silently caps result counts; a full
		// page means the set was likely truncated
		logger := f.logger(ctx)
		logger.Debug().
			Str("topic", topic.String()).
			Int("count", len(records)).
			Msg("Result hit limit, partitioning by date")
		return f.fetchByDate(ctx, topic, params)
	}

	return records, nil
}

// fetchByDate partitions the request into one call per date across the
// configured window and concatenates the successful results. Per-date
// failures are partial: logged, collected and excluded, never aborting the
// batch. Only a window with zero successful dates fails as a whole.
func (f *Coordinator) fetchByDate(ctx context.Context, topic model.Topic, params map[string]string) ([]model.Record, error) {
	f.metrics.FallbackByDateTotal.Inc()

	days := f.config.FallbackWindowDays
	start := timeNow().AddDate(0, 0, -days/2)

	combined := make([]model.Record, 0)
	var errs *multierror.Error
	succeeded := 0

	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")

		dayParams := cloneParams(params)
		dayParams["from"] = date
		dayParams["to"] = date

		records, err := f.client.Fetch(ctx, topic, dayParams)
		if err != nil {
			f.metrics.FallbackDateFailures.Inc()
			logger := f.logger(ctx)
			logger.Warn().
				Err(err).
				Str("topic", topic.String()).
				Str("date", date).
				Msg("Per-date fetch failed, continuing with remaining dates")
			errs = multierror.Append(errs, fmt.Errorf("date %s: %w", date, err))
			continue
		}

		combined = append(combined, records...)
		succeeded++
	}

	if succeeded == 0 && errs != nil {
		return nil, fmt.Errorf("fallback-by-date window failed entirely: %w", errs)
	}
	return combined, nil
}

func cloneParams(params map[string]string) map[string]string {
	cloned := make(map[string]string, len(params)+2)
	for name, value := range params {
		cloned[name] = value
	}
	return cloned
}
