package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/translate"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// setup writes a config rooted in a temp dir and a small LDX fixture.
func setup(t *testing.T) (cfgPath, ldxPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "ldxsync.yaml")
	cfg := "dataDir: " + dir + "\npatch:\n  auditLog: " + filepath.Join(dir, "patch.audit.jsonl") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	doc := ldx.New("Car1_Workspace")
	doc.SetDetail("Track", "Pomona")
	doc.SetMathItem("Wheel Speed", ldx.MathItem{Scale: "1.05", Offset: "0", Unit: "km/h"})
	data, err := ldx.DefaultCodec().Encode(doc)
	require.NoError(t, err)
	ldxPath = filepath.Join(dir, "Car1.ldx")
	require.NoError(t, os.WriteFile(ldxPath, data, 0o644))
	return cfgPath, ldxPath
}

func runOK(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(&out, &errOut, args)
	require.Equal(t, 0, code, "ldxctl %s: %s", strings.Join(args, " "), errOut.String())
	return out.String()
}

func params(t *testing.T, path string) map[string]string {
	t.Helper()
	var records []translate.Record
	require.NoError(t, json.Unmarshal([]byte(runOK(t, "params", path, "--json")), &records))
	out := map[string]string{}
	for _, r := range records {
		out[r.Name] = r.Value
	}
	return out
}

func TestPatchThenRestore(t *testing.T) {
	cfg, path := setup(t)

	out := runOK(t, "patch", path, "-c", cfg, "--name", "ldx_details_Track", "--value", "Laguna Seca")
	assert.Contains(t, out, "ldx_details_Track = Laguna Seca")
	assert.Equal(t, "Laguna Seca", params(t, path)["ldx_details_Track"])

	out = runOK(t, "restore", path, "--audit", filepath.Join(filepath.Dir(cfg), "patch.audit.jsonl"))
	assert.Contains(t, out, "audit log lists 1 committed change(s)")
	assert.Equal(t, "Pomona", params(t, path)["ldx_details_Track"])
}

func TestParamsFilters(t *testing.T) {
	_, path := setup(t)
	var records []translate.Record
	require.NoError(t, json.Unmarshal([]byte(runOK(t, "params", path, "--json", "--no-details")), &records))
	for _, r := range records {
		assert.NotEqual(t, ldx.KindDetails, r.Kind)
	}
	assert.NotEmpty(t, records)
}

func TestMergeWritesDocument(t *testing.T) {
	_, path := setup(t)
	out := filepath.Join(t.TempDir(), "merged.ldx")
	runOK(t, "merge", "--template", path, "--set", "ldx_details_Driver=Jane Smith", "--strategy", "merge", "--out", out)

	got := params(t, out)
	assert.Equal(t, "Jane Smith", got["ldx_details_Driver"])
	assert.Equal(t, "Pomona", got["ldx_details_Track"])
}

func TestQueueAddListApply(t *testing.T) {
	cfg, path := setup(t)
	runOK(t, "queue", "add", "-c", cfg, "--name", "ldx_details_Track", "--value", "Sonoma", "--by", "alice")

	out := runOK(t, "queue", "list", "-c", cfg)
	assert.Contains(t, out, "ldx_details_Track")
	assert.Contains(t, out, "alice")

	out = runOK(t, "queue", "apply", path, "-c", cfg)
	assert.Contains(t, out, "applied 1 queued changes, 0 failed")
	assert.Equal(t, "Sonoma", params(t, path)["ldx_details_Track"])

	out = runOK(t, "queue", "list", "-c", cfg)
	assert.Contains(t, out, "queue is empty")
}

func TestMappingsSetListRemove(t *testing.T) {
	cfg, _ := setup(t)
	runOK(t, "mappings", "set", "Car1", "rpm", "-c", cfg, "--vendor", "Engine RPM", "--units", "rpm")

	out := runOK(t, "mappings", "list", "-c", cfg)
	assert.Contains(t, out, "Engine RPM")

	runOK(t, "mappings", "remove", "Car1", "rpm", "-c", cfg)
	out = runOK(t, "mappings", "list", "-c", cfg)
	assert.Contains(t, out, "no channel mappings")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(&stdout, &stderr, []string{"mappings", "remove", "Car1", "rpm", "-c", cfg}))
}

func TestCatalogCreatesDefault(t *testing.T) {
	cfg, _ := setup(t)
	out := runOK(t, "catalog", "-c", cfg, "--subteam", "mechanical")
	assert.Contains(t, out, "tire_pressure_fl")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfg), "car_parameters.json"))
}

func TestReportWritesPDF(t *testing.T) {
	cfg, path := setup(t)
	pdf := filepath.Join(t.TempDir(), "sheet.pdf")
	runOK(t, "report", path, "-c", cfg, "--out", pdf, "--lang", "tr")
	data, err := os.ReadFile(pdf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestUsageErrors(t *testing.T) {
	cases := []struct {
		args []string
		code int
	}{
		{nil, 0},
		{[]string{"nope"}, 2},
		{[]string{"patch"}, 2},
		{[]string{"merge", "--set", "x=1"}, 2},
		{[]string{"queue"}, 2},
		{[]string{"params", "--bogus"}, 2},
		{[]string{"params", filepath.Join(t.TempDir(), "missing.ldx")}, 1},
	}
	for _, tc := range cases {
		var out, errOut bytes.Buffer
		if got := run(&out, &errOut, tc.args); got != tc.code {
			t.Fatalf("run(%v) = %d, want %d (%s)", tc.args, got, tc.code, errOut.String())
		}
	}
}
