package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	codesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codes_generated_total",
			Help: "Total entry codes generated, by mode (preview or persisted)",
		},
		[]string{"mode"},
	)

	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Total code redemption attempts, by outcome",
		},
		[]string{"outcome"},
	)

	qrScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_scans_total",
			Help: "Total door scan attempts, by outcome",
		},
		[]string{"outcome"},
	)

	qrTicketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_tickets_issued_total",
			Help: "Total QR tickets handed out, split by fresh issuance vs reuse",
		},
		[]string{"reused"},
	)

	qrIssuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qr_issuance_duration_seconds",
			Help:    "End-to-end duration of QR ticket issuance, upload included",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	previewCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "preview_cache_entries",
			Help: "Live preview codes currently cached",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// TrackCodesGenerated records a generation batch. mode is "preview" or
// "persisted".
func TrackCodesGenerated(mode string, n int) {
	codesGenerated.WithLabelValues(mode).Add(float64(n))
}

func TrackRedemption(outcome string) {
	redemptions.WithLabelValues(outcome).Inc()
}

func TrackScan(outcome string) {
	qrScans.WithLabelValues(outcome).Inc()
}

func TrackQRIssued(reused bool) {
	label := "false"
	if reused {
		label = "true"
	}
	qrTicketsIssued.WithLabelValues(label).Inc()
}

func TrackQRIssuanceDuration(d time.Duration) {
	qrIssuanceDuration.Observe(d.Seconds())
}

// CacheSizer is implemented by preview cache backends that can report their
// live entry count.
type CacheSizer interface {
	Len() int
}

type Monitor struct {
	redis *redis.Client
	cache CacheSizer
}

// NewMonitor starts the background collector. redisClient and cache may be
// nil; the corresponding gauges are simply skipped.
func NewMonitor(redisClient *redis.Client, cache CacheSizer) *Monitor {
	monitor := &Monitor{redis: redisClient, cache: cache}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		goroutineCount.Set(float64(runtime.NumGoroutine()))

		if m.cache != nil {
			previewCacheEntries.Set(float64(m.cache.Len()))
		} else if m.redis != nil {
			m.collectRedisCacheSize(context.Background())
		}
	}
}

func (m *Monitor) collectRedisCacheSize(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "preview:*").Result()
	if err != nil {
		return
	}
	previewCacheEntries.Set(float64(len(keys)))
}
