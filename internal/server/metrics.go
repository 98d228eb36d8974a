package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/ldxsync/internal/common"
)

const namespace = "ldxsync"

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

// snapshotCollector exports common.Metrics without keeping a second set of
// counters in sync.
type snapshotCollector struct {
	metrics *common.Metrics

	patchesCommitted *prometheus.Desc
	patchesAborted   *prometheus.Desc
	verifyMismatches *prometheus.Desc
	queueApplied     *prometheus.Desc
	queueFailed      *prometheus.Desc
	scans            *prometheus.Desc
	scanCacheHits    *prometheus.Desc
	filesSeen        *prometheus.Desc
	lastScan         *prometheus.Desc
	uptime           *prometheus.Desc
}

func newSnapshotCollector(m *common.Metrics) *snapshotCollector {
	return &snapshotCollector{
		metrics:          m,
		patchesCommitted: desc("patches_committed_total", "LDX patches committed."),
		patchesAborted:   desc("patches_aborted_total", "LDX patches aborted before commit."),
		verifyMismatches: desc("verify_mismatches_total", "Post-write verifications that did not read back the new value."),
		queueApplied:     desc("queue_applied_total", "Queued changes applied to files."),
		queueFailed:      desc("queue_failed_total", "Queued changes that failed and stayed pending."),
		scans:            desc("scans_total", "Completed discovery scans."),
		scanCacheHits:    desc("scan_cache_hits_total", "Scan requests answered from cache."),
		filesSeen:        desc("files_seen", "LD and LDX files found by the last scan."),
		lastScan:         desc("last_scan_timestamp_seconds", "Unix time of the last completed scan."),
		uptime:           desc("uptime_seconds", "Seconds since the metrics were created."),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.patchesCommitted, c.patchesAborted, c.verifyMismatches, c.queueApplied, c.queueFailed,
		c.scans, c.scanCacheHits, c.filesSeen, c.lastScan, c.uptime,
	} {
		ch <- d
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter(c.patchesCommitted, snap.PatchesCommitted)
	counter(c.patchesAborted, snap.PatchesAborted)
	counter(c.verifyMismatches, snap.VerifyMismatches)
	counter(c.queueApplied, snap.QueueApplied)
	counter(c.queueFailed, snap.QueueFailed)
	counter(c.scans, snap.Scans)
	counter(c.scanCacheHits, snap.ScanCacheHits)
	gauge(c.filesSeen, float64(snap.FilesSeen))
	lastScan := 0.0
	if !snap.LastScan.IsZero() {
		lastScan = float64(snap.LastScan.UnixNano()) / 1e9
	}
	gauge(c.lastScan, lastScan)
	gauge(c.uptime, snap.Uptime.Seconds())
}

// newRegistry builds a private registry holding the engine counters, the
// Go runtime collectors and the reconcile duration histogram.
func newRegistry(m *common.Metrics) (*prometheus.Registry, prometheus.Histogram) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newSnapshotCollector(m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reconcile := promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Time spent replaying the queue into one file.",
		Buckets:   prometheus.DefBuckets,
	})
	return reg, reconcile
}
