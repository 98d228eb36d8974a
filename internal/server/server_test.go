package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/queue"
)

type fakeScanner struct {
	res    discovery.Result
	forced int
}

func (f *fakeScanner) Last() discovery.Result { return f.res }

func (f *fakeScanner) Scan(force bool) discovery.Result {
	if force {
		f.forced++
	}
	return f.res
}

type fakeReconciler struct {
	res queue.Result
	err error
	got [2]string
}

func (f *fakeReconciler) Apply(_ context.Context, path, carID string) (queue.Result, error) {
	f.got = [2]string{path, carID}
	return f.res, f.err
}

type fakeSchema struct{}

func (fakeSchema) SchemaVersion() (uint, bool, error) { return 2, false, nil }

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	opts.StorageDir = t.TempDir()
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndStatus(t *testing.T) {
	metrics := common.NewMetrics()
	metrics.PatchCommitted()
	scanner := &fakeScanner{res: discovery.Result{
		Status: discovery.StatusSuccess, Connected: true, Root: "/mnt/nas",
		LDFiles: []discovery.File{{Name: "a.ld"}, {Name: "b.ld"}},
	}}
	ts := newTestServer(t, Options{Version: "1.2.3", Metrics: metrics, Scanner: scanner, Store: fakeSchema{}})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Version != "1.2.3" || status.Metrics.PatchesCommitted != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.Schema == nil || status.Schema.Version != 2 {
		t.Fatalf("schema = %+v", status.Schema)
	}
	if status.Scan == nil || status.Scan.LDFiles != 2 || status.Scan.Root != "/mnt/nas" {
		t.Fatalf("scan = %+v", status.Scan)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := common.NewMetrics()
	metrics.QueueApplied(3)
	ts := newTestServer(t, Options{Metrics: metrics})
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"ldxsync_queue_applied_total 3", "ldxsync_patches_committed_total 0", "ldxsync_reconcile_duration_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestScanStreamsNDJSON(t *testing.T) {
	scanner := &fakeScanner{res: discovery.Result{
		Status:   discovery.StatusSuccess,
		LDFiles:  []discovery.File{{Name: "a.ld"}},
		LDXFiles: []discovery.File{{Name: "a.ldx"}},
		Message:  "found 1 LD files and 1 LDX files",
	}}
	ts := newTestServer(t, Options{Scanner: scanner})
	resp := postJSON(t, ts.URL+"/scan", "")
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var types []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var rec struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		types = append(types, rec.Type)
	}
	if strings.Join(types, ",") != "ld,ldx,summary" {
		t.Fatalf("types = %v", types)
	}
	if scanner.forced != 1 {
		t.Fatalf("scan should be forced")
	}
}

func TestReconcile(t *testing.T) {
	rec := &fakeReconciler{res: queue.Result{Message: "applied 1 queued changes, 0 failed"}}
	ts := newTestServer(t, Options{Reconciler: rec, AllowedRoots: []string{"/data"}})

	resp := postJSON(t, ts.URL+"/reconcile", `{"path":"/data/Car1.ldx","carId":"Car1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if rec.got != [2]string{"/data/Car1.ldx", "Car1"} {
		t.Fatalf("reconciler got %v", rec.got)
	}

	rec.err = ldx.NotFoundError("ldx file %s", "/data/gone.ldx")
	resp = postJSON(t, ts.URL+"/reconcile", `{"path":"/data/gone.ldx"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload errorPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Kind != "not_found" {
		t.Fatalf("kind = %q", payload.Kind)
	}

	resp = postJSON(t, ts.URL+"/reconcile", `{"carId":"Car1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing path status = %d", resp.StatusCode)
	}
}

func TestReportArtifactDownload(t *testing.T) {
	doc := ldx.New("Car1_Workspace")
	doc.SetDetail("Track", "Pomona")
	data, err := ldx.DefaultCodec().Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "Car1.ldx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ts := newTestServer(t, Options{AllowedRoots: []string{dir}})

	body, _ := json.Marshal(reportRequest{Path: path, Lang: "tr"})
	resp := postJSON(t, ts.URL+"/reports", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ref ArtifactRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ref.Name != "Car1-setup.pdf" || ref.Kind != "setup-sheet" {
		t.Fatalf("ref = %+v", ref)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	dl, err := client.Get(ts.URL + "/artifacts/" + ref.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	pdf, _ := io.ReadAll(dl.Body)
	if dl.Header.Get("Content-Type") != "application/pdf" || !strings.HasPrefix(string(pdf), "%PDF-") {
		t.Fatalf("download is not a PDF")
	}

	resp = postJSON(t, ts.URL+"/reports", `{"path":"`+filepath.ToSlash(filepath.Join(dir, "missing.ldx"))+`"}`)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusForbidden {
		t.Fatalf("missing file status = %d", resp.StatusCode)
	}
}

func TestFileRequestsStayInsideAllowedRoots(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "Car9.ldx")
	if err := os.WriteFile(secret, []byte("<LDXFile/>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	link := filepath.Join(dir, "escape")
	linked := os.Symlink(outside, link) == nil

	rec := &fakeReconciler{}
	ts := newTestServer(t, Options{Reconciler: rec, AllowedRoots: []string{dir}})

	paths := []string{
		secret,
		filepath.Join(dir, "..", filepath.Base(outside), "Car9.ldx"),
		dir + "-sibling/Car9.ldx",
	}
	if linked {
		paths = append(paths, filepath.Join(link, "Car9.ldx"))
	}
	for _, p := range paths {
		body, _ := json.Marshal(reconcileRequest{Path: p, CarID: "Car9"})
		if resp := postJSON(t, ts.URL+"/reconcile", string(body)); resp.StatusCode != http.StatusForbidden {
			t.Fatalf("reconcile %s status = %d", p, resp.StatusCode)
		}
		body, _ = json.Marshal(reportRequest{Path: p})
		if resp := postJSON(t, ts.URL+"/reports", string(body)); resp.StatusCode != http.StatusForbidden {
			t.Fatalf("report %s status = %d", p, resp.StatusCode)
		}
	}
	if rec.got != [2]string{} {
		t.Fatalf("reconciler reached with %v", rec.got)
	}

	closed := newTestServer(t, Options{Reconciler: rec})
	body, _ := json.Marshal(reconcileRequest{Path: filepath.Join(dir, "Car1.ldx")})
	if resp := postJSON(t, closed.URL+"/reconcile", string(body)); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no roots status = %d", resp.StatusCode)
	}
}
