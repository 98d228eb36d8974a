package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"example.com/ldxsync/internal/common"
)

// DefaultMountPoints are tried, in order, when no configured root is usable.
var DefaultMountPoints = []string{
	"/mnt/nas",
	"/mnt/nas/motec",
	"/media/nas",
	"/media/nas/motec",
	"/Volumes/NAS",
	"/Volumes/NAS/motec",
}

type Config struct {
	NASBasePath     string
	LDScanDir       string
	LDXOutputDir    string
	LDGlob          string
	LDXGlob         string
	Interval        time.Duration
	MaxFilesPerScan int
	// Inference is "conservative" (default) or "off".
	Inference   string
	MountPoints []string
}

func (c Config) withDefaults() Config {
	if c.LDGlob == "" {
		c.LDGlob = "*.ld"
	}
	if c.LDXGlob == "" {
		c.LDXGlob = "*.ldx"
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxFilesPerScan <= 0 {
		c.MaxFilesPerScan = 1000
	}
	if c.Inference == "" {
		c.Inference = "conservative"
	}
	if c.MountPoints == nil {
		c.MountPoints = DefaultMountPoints
	}
	return c
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusCached  Status = "cached"
	StatusError   Status = "error"
)

// File is one discovered LD or LDX file.
type File struct {
	Path             string    `json:"filePath"`
	Name             string    `json:"name"`
	Size             int64     `json:"size"`
	Modified         time.Time `json:"modified"`
	SuggestedSession string    `json:"suggestedSession,omitempty"`
	SuggestedCar     string    `json:"suggestedCar,omitempty"`
	Managed          bool      `json:"managed,omitempty"`
}

type Result struct {
	Status    Status    `json:"status"`
	Root      string    `json:"root,omitempty"`
	Connected bool      `json:"connected"`
	LDFiles   []File    `json:"ldFiles"`
	LDXFiles  []File    `json:"ldxFiles"`
	Message   string    `json:"message"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Scanner finds LD and LDX files under a NAS-style root. Scan results are
// cached for half the interval and overlapping scans collapse into a cache
// hit.
type Scanner struct {
	cfg     Config
	metrics *common.Metrics

	scanning atomic.Bool

	mu          sync.Mutex
	last        Result
	lastSuccess time.Time
	onScan      []func(Result)

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, metrics *common.Metrics) *Scanner {
	return &Scanner{cfg: cfg.withDefaults(), metrics: metrics}
}

// OnScan registers fn to receive every fresh successful scan.
func (s *Scanner) OnScan(fn func(Result)) {
	s.mu.Lock()
	s.onScan = append(s.onScan, fn)
	s.mu.Unlock()
}

// Last returns the most recent scan result.
func (s *Scanner) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scanner) cached(msg string) Result {
	s.metrics.ScanCacheHit()
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.last
	r.Status = StatusCached
	r.Message = msg
	return r
}

func (s *Scanner) Scan(force bool) Result {
	if !s.scanning.CompareAndSwap(false, true) {
		return s.cached("scan already in progress")
	}
	defer s.scanning.Store(false)

	s.mu.Lock()
	fresh := !s.lastSuccess.IsZero() && time.Since(s.lastSuccess) < s.cfg.Interval/2
	s.mu.Unlock()
	if fresh && !force {
		return s.cached("using cached scan results")
	}

	now := time.Now()
	root, ok := s.resolveRoot()
	if !ok {
		r := Result{Status: StatusError, ScannedAt: now, Message: "NAS not found or not accessible"}
		s.mu.Lock()
		s.last = r
		s.mu.Unlock()
		return r
	}
	r := Result{
		Status:    StatusSuccess,
		Root:      root,
		Connected: true,
		ScannedAt: now,
		LDFiles:   s.collect(root, s.cfg.LDScanDir, "ld", s.cfg.LDGlob, false),
		LDXFiles:  s.collect(root, s.cfg.LDXOutputDir, "ldx", s.cfg.LDXGlob, true),
	}
	r.Message = fmt.Sprintf("found %d LD files and %d LDX files", len(r.LDFiles), len(r.LDXFiles))
	s.metrics.Scanned(len(r.LDFiles) + len(r.LDXFiles))

	s.mu.Lock()
	s.last = r
	s.lastSuccess = now
	callbacks := append([]func(Result){}, s.onScan...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(r)
	}
	return r
}

func (s *Scanner) resolveRoot() (string, bool) {
	if s.cfg.NASBasePath != "" {
		if usableDir(s.cfg.NASBasePath) {
			return s.cfg.NASBasePath, true
		}
		common.Logf("discovery: configured NAS path is not accessible: %s", s.cfg.NASBasePath)
	}
	for _, p := range s.cfg.MountPoints {
		if usableDir(p) {
			common.Logf("discovery: using NAS mount at %s", p)
			return p, true
		}
	}
	if filepath.IsAbs(s.cfg.LDScanDir) && usableDir(s.cfg.LDScanDir) {
		if parent := filepath.Dir(s.cfg.LDScanDir); usableDir(parent) {
			return parent, true
		}
	}
	return "", false
}

// usableDir reports whether path exists, is a directory and can be listed.
func usableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (s *Scanner) collect(root, configured, short, pattern string, ldx bool) []File {
	dirs := []string{
		filepath.Join(root, short),
		filepath.Join(root, "data", short),
		root,
	}
	if configured != "" {
		first := configured
		if !filepath.IsAbs(configured) {
			first = filepath.Join(root, filepath.Base(configured))
		}
		dirs = append([]string{first}, dirs...)
	}
	seen := map[string]bool{}
	var out []File
	for _, dir := range dirs {
		if len(out) >= s.cfg.MaxFilesPerScan {
			break
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if len(out) >= s.cfg.MaxFilesPerScan {
				return filepath.SkipAll
			}
			if d.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(pattern, d.Name()); !ok || seen[path] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			seen[path] = true
			out = append(out, s.describe(path, info, ldx))
			return nil
		})
		if err != nil {
			common.Logf("discovery: error scanning %s: %v", dir, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Scanner) describe(path string, info fs.FileInfo, ldx bool) File {
	f := File{Path: path, Name: info.Name(), Size: info.Size(), Modified: info.ModTime()}
	if s.cfg.Inference != "off" {
		f.SuggestedCar = InferCar(path)
		if !ldx {
			f.SuggestedSession = InferSession(info.Name())
		}
	}
	if ldx {
		f.Managed = s.managed(path)
	}
	return f
}

func (s *Scanner) managed(path string) bool {
	if s.cfg.LDXOutputDir == "" {
		return false
	}
	out, err := filepath.Abs(s.cfg.LDXOutputDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(out, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Start runs a scan immediately and then once per interval until ctx is
// cancelled or Stop is called.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	common.Logf("discovery: background scanning every %s", s.cfg.Interval)
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			r := s.Scan(false)
			if r.Status == StatusError {
				common.Logf("discovery: %s", r.Message)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the background loop and waits for it to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	common.Logf("discovery: background scanning stopped")
}

// ListLD lists files directly inside dir whose names match pattern, sorted.
// A missing directory yields no files.
func ListLD(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.ld"
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
