package common

import (
	"fmt"
	"sync"
	"time"
)

// Metrics counts engine activity. The zero value is not usable; call
// NewMetrics. A nil *Metrics ignores every update.
type Metrics struct {
	mu               sync.Mutex
	start            time.Time
	patchesCommitted int64
	patchesAborted   int64
	verifyMismatches int64
	queueApplied     int64
	queueFailed      int64
	scans            int64
	scanCacheHits    int64
	filesSeen        int64
	lastScan         time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

func (m *Metrics) add(f func()) {
	if m == nil {
		return
	}
	m.mu.Lock()
	f()
	m.mu.Unlock()
}

func (m *Metrics) PatchCommitted() { m.add(func() { m.patchesCommitted++ }) }

func (m *Metrics) PatchAborted() { m.add(func() { m.patchesAborted++ }) }

func (m *Metrics) VerifyMismatch() { m.add(func() { m.verifyMismatches++ }) }

func (m *Metrics) QueueApplied(n int) { m.add(func() { m.queueApplied += int64(n) }) }

func (m *Metrics) QueueFailed(n int) { m.add(func() { m.queueFailed += int64(n) }) }

func (m *Metrics) ScanCacheHit() { m.add(func() { m.scanCacheHits++ }) }

func (m *Metrics) Scanned(files int) {
	m.add(func() {
		m.scans++
		m.filesSeen = int64(files)
		m.lastScan = time.Now()
	})
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Uptime:           time.Since(m.start),
		PatchesCommitted: m.patchesCommitted,
		PatchesAborted:   m.patchesAborted,
		VerifyMismatches: m.verifyMismatches,
		QueueApplied:     m.queueApplied,
		QueueFailed:      m.queueFailed,
		Scans:            m.scans,
		ScanCacheHits:    m.scanCacheHits,
		FilesSeen:        m.filesSeen,
		LastScan:         m.lastScan,
	}
}

type MetricsSnapshot struct {
	Uptime           time.Duration `json:"uptime"`
	PatchesCommitted int64         `json:"patchesCommitted"`
	PatchesAborted   int64         `json:"patchesAborted"`
	VerifyMismatches int64         `json:"verifyMismatches"`
	QueueApplied     int64         `json:"queueApplied"`
	QueueFailed      int64         `json:"queueFailed"`
	Scans            int64         `json:"scans"`
	ScanCacheHits    int64         `json:"scanCacheHits"`
	FilesSeen        int64         `json:"filesSeen"`
	LastScan         time.Time     `json:"lastScan"`
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}
