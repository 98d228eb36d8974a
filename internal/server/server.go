package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/queue"
	"example.com/ldxsync/internal/report"
)

// Scanner is the discovery surface the server reports on.
type Scanner interface {
	Last() discovery.Result
	Scan(force bool) discovery.Result
}

type Reconciler interface {
	Apply(ctx context.Context, path, carID string) (queue.Result, error)
}

// SchemaReporter reports the parameter store migration state.
type SchemaReporter interface {
	SchemaVersion() (uint, bool, error)
}

type Options struct {
	StorageDir   string
	Version      string
	Lang         report.Language
	Scanner      Scanner
	Reconciler   Reconciler
	Store        SchemaReporter
	Metrics      *common.Metrics
	// AllowedRoots are the directories request paths may point into.
	// With none configured, /reconcile and /reports refuse every path.
	AllowedRoots []string
}

// Server serves health, status and metrics for ldxd, and keeps generated
// setup sheets available for download.
type Server struct {
	opts      Options
	workDir   string
	artifacts *ArtifactStore
	registry  *prometheus.Registry
	reconcile prometheus.Histogram
}

// Artifact is a file generated by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	Created     time.Time
}

// ArtifactRef is the public form of an Artifact.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer creates a server with a private working directory under
// opts.StorageDir.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "ldxd-")
	if err != nil {
		return nil, err
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		opts:      opts,
		workDir:   workDir,
		artifacts: &ArtifactStore{entries: make(map[string]Artifact)},
	}
	s.registry, s.reconcile = newRegistry(opts.Metrics)
	return s, nil
}

// Close removes the working directory and every artifact in it.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

// allowed reports whether path lies inside one of the allowed roots once
// made absolute, cleaned and, where it exists, resolved through symlinks.
func (s *Server) allowed(path string) bool {
	target, err := resolvePath(path)
	if err != nil {
		return false
	}
	for _, root := range s.opts.AllowedRoots {
		if root == "" {
			continue
		}
		base, err := resolvePath(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(base, target)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Missing files resolve through their parent directory.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return abs, nil
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          uuid.NewString(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
		Created:     time.Now().UTC(),
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	arts := make([]Artifact, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		arts = append(arts, art)
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(arts, func(i, j int) bool { return arts[i].Created.Before(arts[j].Created) })
	refs := make([]ArtifactRef, len(arts))
	for i, art := range arts {
		refs[i] = toRef(art)
	}
	return refs
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}
