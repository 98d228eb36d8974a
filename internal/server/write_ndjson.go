package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/ldxsync/internal/discovery"
)

// NDJSONWriter streams newline-delimited JSON objects, flushing after each
// one when the underlying writer supports it.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// scanRecord is one discovered file in a scan stream.
type scanRecord struct {
	Type string `json:"type"`
	discovery.File
}

// WriteFile writes f tagged with its type, "ld" or "ldx".
func (w *NDJSONWriter) WriteFile(kind string, f discovery.File) error {
	return w.WriteObject(scanRecord{Type: kind, File: f})
}

func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte("\n")); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
