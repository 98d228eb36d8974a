package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/report"
)

// errorPayload is the body of every failed request.
type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Version   string                 `json:"version"`
	Metrics   common.MetricsSnapshot `json:"metrics"`
	Schema    *schemaStatus          `json:"schema,omitempty"`
	Scan      *scanStatus            `json:"scan,omitempty"`
	Artifacts []ArtifactRef          `json:"artifacts"`
}

type schemaStatus struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Error   string `json:"error,omitempty"`
}

type scanStatus struct {
	Status    string    `json:"status"`
	Root      string    `json:"root,omitempty"`
	Connected bool      `json:"connected"`
	LDFiles   int       `json:"ldFiles"`
	LDXFiles  int       `json:"ldxFiles"`
	Message   string    `json:"message,omitempty"`
	ScannedAt time.Time `json:"scannedAt"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Version:   s.opts.Version,
		Metrics:   s.opts.Metrics.Snapshot(),
		Artifacts: s.listArtifacts(),
	}
	if s.opts.Store != nil {
		version, dirty, err := s.opts.Store.SchemaVersion()
		resp.Schema = &schemaStatus{Version: version, Dirty: dirty}
		if err != nil {
			resp.Schema.Error = err.Error()
		}
	}
	if s.opts.Scanner != nil {
		last := s.opts.Scanner.Last()
		resp.Scan = &scanStatus{
			Status:    string(last.Status),
			Root:      last.Root,
			Connected: last.Connected,
			LDFiles:   len(last.LDFiles),
			LDXFiles:  len(last.LDXFiles),
			Message:   last.Message,
			ScannedAt: last.ScannedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScan forces a scan and streams every file as NDJSON, followed by a
// summary object.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Scanner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("discovery is disabled"))
		return
	}
	res := s.opts.Scanner.Scan(true)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out := NewNDJSONWriter(w)
	for _, f := range res.LDFiles {
		if err := out.WriteFile("ld", f); err != nil {
			return
		}
	}
	for _, f := range res.LDXFiles {
		if err := out.WriteFile("ldx", f); err != nil {
			return
		}
	}
	_ = out.WriteObject(struct {
		Type    string `json:"type"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}{"summary", string(res.Status), res.Message})
}

type reconcileRequest struct {
	Path  string `json:"path"`
	CarID string `json:"carId"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("queue reconciliation is disabled"))
		return
	}
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, ldx.ValidationError("path is required"))
		return
	}
	if !s.allowed(req.Path) {
		writeError(w, http.StatusForbidden, ldx.ValidationError("path %s is outside the served directories", req.Path))
		return
	}
	start := time.Now()
	res, err := s.opts.Reconciler.Apply(r.Context(), req.Path, req.CarID)
	s.reconcile.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reportRequest struct {
	Path string `json:"path"`
	Lang string `json:"lang"`
}

// handleReport renders a setup sheet for an LDX file and registers it as a
// downloadable artifact.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lang := s.opts.Lang
	if req.Lang != "" {
		parsed, err := report.ParseLanguage(req.Lang)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		lang = parsed
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, ldx.ValidationError("path is required"))
		return
	}
	if !s.allowed(req.Path) {
		writeError(w, http.StatusForbidden, ldx.ValidationError("path %s is outside the served directories", req.Path))
		return
	}
	sheet, err := report.BuildSetupSheet(req.Path, nil)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out, err := s.tempPath("sheet-*.pdf")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := report.SaveSetupSheetPDF(sheet, out, lang); err != nil {
		os.Remove(out)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	name := strings.TrimSuffix(sheet.File, filepath.Ext(sheet.File)) + "-setup.pdf"
	art, err := s.addArtifact(out, name, "application/pdf", "setup-sheet")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toRef(art))
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	io.Copy(w, f)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ldx.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ldx.ErrValidation), errors.Is(err, ldx.ErrFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ldx.ErrNotFound):
		return "not_found"
	case errors.Is(err, ldx.ErrValidation):
		return "validation"
	case errors.Is(err, ldx.ErrFormat):
		return "format"
	case errors.Is(err, ldx.ErrIO):
		return "io"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorPayload{Error: err.Error(), Kind: errorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".ldx", ".xml":
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}
