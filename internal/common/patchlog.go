package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PatchEntry captures a single parameter update applied to an LDX file.
type PatchEntry struct {
	File      string    `json:"file"`
	Parameter string    `json:"parameter"`
	Kind      string    `json:"kind,omitempty"`
	NodeID    string    `json:"nodeId,omitempty"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after"`
	BeforeSha string    `json:"beforeSha,omitempty"`
	AfterSha  string    `json:"afterSha,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Verified  *bool     `json:"verified,omitempty"`
	Ts        time.Time `json:"ts"`
}

// Changed reports whether the entry altered the stored value.
func (p PatchEntry) Changed() bool {
	return p.Before != p.After
}

// PatchLog provides append-only access to a JSONL audit log.
type PatchLog struct {
	path string
	mu   sync.Mutex
}

// NewPatchLog returns a PatchLog that writes to the provided path.
func NewPatchLog(path string) *PatchLog {
	return &PatchLog{path: path}
}

// Path returns the backing file path for the log.
func (p *PatchLog) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// Append writes a new entry to the audit log, one JSON object per line.
func (p *PatchLog) Append(entry PatchEntry) error {
	if p == nil {
		return errors.New("nil patch log")
	}
	if entry.Parameter == "" {
		return errors.New("patch entry missing parameter")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadPatchLog loads every entry from the supplied JSONL file.
func ReadPatchLog(path string) ([]PatchEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []PatchEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry PatchEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode patch entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
