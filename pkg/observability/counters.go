package observability

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope of the pipeline metrics.
const MeterName = "github.com/matzehuels/kmpindex/pipeline"

// Metric names recorded by Counters.
const (
	metricIndexRequests   = "kmpindex_index_requests_total"
	metricIndexDuration   = "kmpindex_index_duration_seconds"
	metricDiscovered      = "kmpindex_discovered_total"
	metricDiscoveryErrors = "kmpindex_discovery_errors_total"
	metricJobRuns         = "kmpindex_job_runs_total"
	metricJobDuration     = "kmpindex_job_last_duration_seconds"
	metricCacheLookups    = "kmpindex_cache_lookups_total"
	metricHTTPRequests    = "kmpindex_http_requests_total"
	metricHTTPErrors      = "kmpindex_http_errors_total"
)

// Counters implements every hook interface on OpenTelemetry instruments
// read back through a manual reader. It keeps totals per discoverer, per
// job and per upstream host.
type Counters struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader

	indexRequests   metric.Int64Counter
	indexDuration   metric.Float64Histogram
	discovered      metric.Int64Counter
	discoveryErrors metric.Int64Counter
	jobRuns         metric.Int64Counter
	jobDuration     metric.Float64Gauge
	cacheLookups    metric.Int64Counter
	httpRequests    metric.Int64Counter
	httpErrors      metric.Int64Counter

	mu      sync.Mutex
	lastErr map[string]string
}

// JobStats summarizes the runs of one scheduled job.
type JobStats struct {
	Runs     int           `json:"runs"`
	Failures int           `json:"failures"`
	LastRun  time.Duration `json:"last_run_ns"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Indexed      int                 `json:"indexed"`
	IndexFailed  int                 `json:"index_failed"`
	IndexAvg     time.Duration       `json:"index_avg_ns"`
	Discovered   map[string]int      `json:"discovered"`
	DiscoverErrs map[string]int      `json:"discovery_errors"`
	Jobs         map[string]JobStats `json:"jobs"`
	CacheHits    map[string]int      `json:"cache_hits"`
	CacheMisses  map[string]int      `json:"cache_misses"`
	Requests     map[string]int      `json:"http_requests"`
	HTTPErrors   map[string]int      `json:"http_errors"`
}

var (
	_ PipelineHooks = (*Counters)(nil)
	_ CacheHooks    = (*Counters)(nil)
	_ HTTPHooks     = (*Counters)(nil)
)

// NewCounters creates counters on a private meter provider. Call Shutdown
// when done.
func NewCounters() (*Counters, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(MeterName)

	c := &Counters{provider: provider, reader: reader, lastErr: map[string]string{}}
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		ctr, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return ctr
	}
	c.indexRequests = counter(metricIndexRequests, "Indexing requests processed", "{request}")
	c.discovered = counter(metricDiscovered, "Coordinates found by discovery", "{coordinate}")
	c.discoveryErrors = counter(metricDiscoveryErrors, "Discoverer runs that failed", "{run}")
	c.jobRuns = counter(metricJobRuns, "Scheduled job runs", "{run}")
	c.cacheLookups = counter(metricCacheLookups, "HTTP cache lookups", "{lookup}")
	c.httpRequests = counter(metricHTTPRequests, "Outgoing upstream requests", "{request}")
	c.httpErrors = counter(metricHTTPErrors, "Upstream requests that failed in transport", "{request}")

	var err error
	c.indexDuration, err = meter.Float64Histogram(metricIndexDuration,
		metric.WithDescription("Duration of successful indexing requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)
	c.jobDuration, err = meter.Float64Gauge(metricJobDuration,
		metric.WithDescription("Duration of the last run of a scheduled job"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

// Shutdown releases the meter provider.
func (c *Counters) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}

func (c *Counters) OnDiscoveryStart(context.Context, string) {}

func (c *Counters) OnDiscoveryComplete(ctx context.Context, discoverer string, found int, _ time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("discoverer", discoverer))
	c.discovered.Add(ctx, int64(found), attrs)
	if err != nil {
		c.discoveryErrors.Add(ctx, 1, attrs)
	}
}

func (c *Counters) OnIndexStart(context.Context, string) {}

func (c *Counters) OnIndexComplete(ctx context.Context, _ string, d time.Duration, err error) {
	c.indexRequests.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err == nil {
		c.indexDuration.Record(ctx, d.Seconds())
	}
}

func (c *Counters) OnJobComplete(ctx context.Context, job string, d time.Duration, err error) {
	c.jobRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job), attribute.Bool("success", err == nil)))
	c.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("job", job)))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr[job] = ""
	if err != nil {
		c.lastErr[job] = err.Error()
	}
}

func (c *Counters) OnCacheHit(ctx context.Context, keyType string) {
	c.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", keyType), attribute.Bool("hit", true)))
}

func (c *Counters) OnCacheMiss(ctx context.Context, keyType string) {
	c.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", keyType), attribute.Bool("hit", false)))
}

func (c *Counters) OnCacheSet(context.Context, string, int) {}

func (c *Counters) OnRequest(ctx context.Context, _, host, _ string) {
	c.httpRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("host", host)))
}

func (c *Counters) OnResponse(context.Context, string, string, string, int, time.Duration) {}

func (c *Counters) OnError(ctx context.Context, _, host, _ string, _ error) {
	c.httpErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("host", host)))
}

// Snapshot collects the instruments and folds them into totals. A failed
// collection yields an empty snapshot.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Discovered:   map[string]int{},
		DiscoverErrs: map[string]int{},
		Jobs:         map[string]JobStats{},
		CacheHits:    map[string]int{},
		CacheMisses:  map[string]int{},
		Requests:     map[string]int{},
		HTTPErrors:   map[string]int{},
	}
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(context.Background(), &rm); err != nil {
		return s
	}

	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != MeterName {
			continue
		}
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					s.addSum(m.Name, dp.Attributes, int(dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					if dp.Count > 0 {
						s.IndexAvg = time.Duration(dp.Sum / float64(dp.Count) * float64(time.Second))
					}
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					job := stringAttr(dp.Attributes, "job")
					j := s.Jobs[job]
					j.LastRun = time.Duration(dp.Value * float64(time.Second))
					s.Jobs[job] = j
				}
			}
		}
	}

	c.mu.Lock()
	for job, msg := range c.lastErr {
		j := s.Jobs[job]
		j.LastErr = msg
		s.Jobs[job] = j
	}
	c.mu.Unlock()
	return s
}

func (s *Snapshot) addSum(name string, attrs attribute.Set, v int) {
	switch name {
	case metricIndexRequests:
		if boolAttr(attrs, "success") {
			s.Indexed += v
		} else {
			s.IndexFailed += v
		}
	case metricDiscovered:
		s.Discovered[stringAttr(attrs, "discoverer")] += v
	case metricDiscoveryErrors:
		s.DiscoverErrs[stringAttr(attrs, "discoverer")] += v
	case metricJobRuns:
		job := stringAttr(attrs, "job")
		j := s.Jobs[job]
		j.Runs += v
		if !boolAttr(attrs, "success") {
			j.Failures += v
		}
		s.Jobs[job] = j
	case metricCacheLookups:
		if boolAttr(attrs, "hit") {
			s.CacheHits[stringAttr(attrs, "namespace")] += v
		} else {
			s.CacheMisses[stringAttr(attrs, "namespace")] += v
		}
	case metricHTTPRequests:
		s.Requests[stringAttr(attrs, "host")] += v
	case metricHTTPErrors:
		s.HTTPErrors[stringAttr(attrs, "host")] += v
	}
}

func stringAttr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func boolAttr(set attribute.Set, key string) bool {
	v, _ := set.Value(attribute.Key(key))
	return v.AsBool()
}

// JobNames returns the jobs that reported at least one run, sorted.
func (s Snapshot) JobNames() []string {
	names := make([]string, 0, len(s.Jobs))
	for n := range s.Jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
