package patch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/translate"
)

type fakeCatalog map[string][2]string

func (c fakeCatalog) DisplayInfo(name string) (string, string, bool) {
	e, ok := c[name]
	return e[0], e[1], ok
}

func writeFixture(t *testing.T) string {
	t.Helper()
	doc := ldx.New("Car1_Workspace")
	doc.SetDetail("Fastest Time", "1:32.456")
	doc.SetDetail("Track", "Pomona")
	doc.SetMathItem("Wheel Speed", ldx.MathItem{Scale: "1.05", Offset: "0", Unit: "km/h"})
	doc.SetDescriptor("Engine RPM", ldx.Descriptor{DisplayUnit: "rpm", DisplayDPS: "0"})
	doc.MarkerGroups = []ldx.MarkerGroup{{Name: "Laps", Index: "0", Markers: []ldx.Marker{{Name: "Lap 1", Version: "100", Time: "92.4"}}}}
	data, err := ldx.DefaultCodec().Encode(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session.ldx")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func decodeFile(t *testing.T, path string) *ldx.Document {
	t.Helper()
	doc, err := ldx.DefaultCodec().DecodeFile(path)
	require.NoError(t, err)
	return doc
}

func TestApplyStructuralKinds(t *testing.T) {
	path := writeFixture(t)
	p := New(Options{})

	require.NoError(t, p.Apply(path, "ldx_details_Fastest_Time", "1:31.000", ""))
	require.NoError(t, p.Apply(path, "ldx_math_Wheel_Speed_scale", "1.10", ""))
	require.NoError(t, p.Apply(path, "ldx_math_Wheel_Speed_OFFSET", "0.5", ""))
	require.NoError(t, p.Apply(path, "ldx_desc_Engine_RPM_dps", "2", "ignored"))
	require.NoError(t, p.Apply(path, "ldx_desc_Engine_RPM_unit", "1/min", ""))

	doc := decodeFile(t, path)
	v, _ := doc.Detail("Fastest Time")
	assert.Equal(t, "1:31.000", v)
	assert.Equal(t, ldx.MathItem{Scale: "1.10", Offset: "0.5", Unit: "km/h"}, doc.MathItems["Wheel Speed"])
	assert.Equal(t, ldx.Descriptor{DisplayUnit: "1/min", DisplayDPS: "2"}, doc.Descriptors["Engine RPM"])
	assert.Equal(t, 1, doc.MarkerCount(), "unrelated content must survive")
}

func TestApplyIDsAreCaseSensitive(t *testing.T) {
	path := writeFixture(t)
	err := New(Options{}).Apply(path, "ldx_math_wheel_speed_OFFSET", "0.5", "")
	// Ids are case sensitive; only the field suffix is not.
	assert.True(t, errors.Is(err, ldx.ErrNotFound), "got %v", err)
}

func TestApplyIsIdempotent(t *testing.T) {
	path := writeFixture(t)
	p := New(Options{})
	require.NoError(t, p.Apply(path, "ldx_details_Track", "Laguna Seca", ""))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, p.Apply(path, "ldx_details_Track", "Laguna Seca", ""))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestApplyNotFoundLeavesFileUntouched(t *testing.T) {
	path := writeFixture(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = New(Options{}).Apply(path, "ldx_details_Nonexistent", "x", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ldx.ErrNotFound))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, common.FileExists(path+BackupSuffix), "no backup for a failed locate")
	assert.False(t, common.FileExists(path+TempSuffix))
}

func TestApplyResolvesUnderscoredNameToSpacedID(t *testing.T) {
	path := writeFixture(t)
	require.NoError(t, New(Options{}).Apply(path, "ldx_details_Fastest_Time", "1:30.999", ""))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `Id="Fastest Time"`)
	assert.NotContains(t, string(data), `Id="Fastest_Time"`)
}

func TestApplyResolvesNamesEncodedFromSlashedIDs(t *testing.T) {
	path := writeFixture(t)
	doc := decodeFile(t, path)
	doc.SetDetail("Wing F/R", "3/5")
	doc.SetMathItem("Susp F/R", ldx.MathItem{Scale: "1", Offset: "0", Unit: "mm"})
	data, err := ldx.DefaultCodec().Encode(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	p := New(Options{})
	for _, rec := range translate.ToParameters(doc, translate.DefaultOptions) {
		if rec.OriginalID == "Wing F/R" || rec.OriginalID == "Susp F/R" {
			require.NoError(t, p.Apply(path, rec.Name, "9", ""), rec.Name)
		}
	}

	got := decodeFile(t, path)
	v, _ := got.Detail("Wing F/R")
	assert.Equal(t, "9", v)
	assert.Equal(t, ldx.MathItem{Scale: "9", Offset: "9", Unit: "mm"}, got.MathItems["Susp F/R"])
	_, created := got.Detail("Wing F R")
	assert.False(t, created, "no sibling entry may be created")
}

func TestApplyDocumentsGenericParameter(t *testing.T) {
	path := writeFixture(t)
	cat := fakeCatalog{"tire_pressure_fl": {"Tire Pressure FL", "psi"}}
	p := New(Options{Catalog: cat})

	require.NoError(t, p.Apply(path, "tire_pressure_fl", "28.5", "cold"))
	require.NoError(t, p.Apply(path, "brake_bias", "54.0", ""))
	require.NoError(t, p.Apply(path, "wing_angle", "12 PSI", ""))

	doc := decodeFile(t, path)
	v, _ := doc.Detail("Tire Pressure FL")
	assert.Equal(t, "28.5 psi (cold)", v)
	v, _ = doc.Detail("Brake Bias")
	assert.Equal(t, "54.0", v)
	v, _ = doc.Detail("Wing Angle")
	assert.Equal(t, "12 PSI", v)

	ok, err := p.Contains(path, "tire_pressure_fl")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyRequireCatalogEntry(t *testing.T) {
	path := writeFixture(t)
	err := New(Options{RequireCatalogEntry: true}).Apply(path, "brake_bias", "54.0", "")
	assert.True(t, errors.Is(err, ldx.ErrNotFound), "got %v", err)
}

func TestApplyCreatesLayersWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.ldx")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?><LDXFile Workspace="W"></LDXFile>`), 0o644))
	require.NoError(t, New(Options{}).Apply(path, "brake_bias", "54.0", ""))
	v, ok := decodeFile(t, path).Detail("Brake Bias")
	assert.True(t, ok)
	assert.Equal(t, "54.0", v)
}

func TestBackupCreatedOnce(t *testing.T) {
	path := writeFixture(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	p := New(Options{})
	require.NoError(t, p.Apply(path, "ldx_details_Track", "A", ""))
	require.NoError(t, p.Apply(path, "ldx_details_Track", "B", ""))

	backup, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, original, backup, "backup must hold the pre-first-patch content")
}

func TestStageFailureLeavesOriginal(t *testing.T) {
	path := writeFixture(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	metrics := common.NewMetrics()
	p := New(Options{Metrics: metrics})
	p.writeTemp = func(tmp string, data []byte, perm os.FileMode) error {
		// Leave a partial temp file behind, as a crash mid-write would.
		_ = os.WriteFile(tmp, data[:len(data)/2], perm)
		return errors.New("disk full")
	}
	err = p.Apply(path, "ldx_details_Track", "Laguna Seca", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ldx.ErrIO))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, common.FileExists(path+TempSuffix), "temp file must be cleaned up")
	assert.Equal(t, int64(1), metrics.Snapshot().PatchesAborted)
}

func TestBackupFailureAbortsBeforeStaging(t *testing.T) {
	path := writeFixture(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	p := New(Options{})
	staged := false
	p.writeTemp = func(tmp string, data []byte, perm os.FileMode) error {
		staged = true
		return writeSynced(tmp, data, perm)
	}
	p.copyFile = func(src, dst string) error {
		_ = os.WriteFile(dst, []byte("partial"), 0o644)
		return errors.New("read-only filesystem")
	}
	err = p.Apply(path, "ldx_details_Track", "Laguna Seca", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ldx.ErrIO))
	assert.False(t, staged, "nothing may be staged without a backup")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, common.FileExists(path+TempSuffix))
	assert.False(t, common.FileExists(path+BackupSuffix), "partial backup must be removed")
}

func TestBackupPathThatIsNotAFileAbortsPatch(t *testing.T) {
	path := writeFixture(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(path+BackupSuffix, 0o755))

	err = New(Options{}).Apply(path, "ldx_details_Track", "Laguna Seca", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ldx.ErrIO))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, common.FileExists(path+TempSuffix))
	info, err := os.Stat(path + BackupSuffix)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "existing backup path must be left alone")
}

func TestStrictVerifyAbortsOnMismatch(t *testing.T) {
	path := writeFixture(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	p := New(Options{Verify: VerifyStrict})
	p.writeTemp = func(tmp string, data []byte, perm os.FileMode) error {
		return writeSynced(tmp, []byte(strings.Replace(string(data), "Laguna Seca", "Corrupted", 1)), perm)
	}
	err = p.Apply(path, "ldx_details_Track", "Laguna Seca", "")
	assert.True(t, errors.Is(err, ldx.ErrValidation), "got %v", err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDiagnosticVerifyCommitsOnMismatch(t *testing.T) {
	path := writeFixture(t)
	metrics := common.NewMetrics()
	p := New(Options{Metrics: metrics})
	p.writeTemp = func(tmp string, data []byte, perm os.FileMode) error {
		return writeSynced(tmp, []byte(strings.Replace(string(data), "Laguna Seca", "Corrupted", 1)), perm)
	}
	require.NoError(t, p.Apply(path, "ldx_details_Track", "Laguna Seca", ""))
	v, _ := decodeFile(t, path).Detail("Track")
	assert.Equal(t, "Corrupted", v)
	assert.Equal(t, int64(1), metrics.Snapshot().VerifyMismatches)
}

func TestApplyWritesAuditLog(t *testing.T) {
	path := writeFixture(t)
	audit := common.NewPatchLog(filepath.Join(t.TempDir(), "audit", "patches.jsonl"))
	p := New(Options{AuditLog: audit})
	require.NoError(t, p.Apply(path, "ldx_details_Track", "Laguna Seca", ""))
	_ = p.Apply(path, "ldx_details_Missing", "x", "")

	entries, err := common.ReadPatchLog(audit.Path())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "committed", entries[0].Outcome)
	assert.Equal(t, "Pomona", entries[0].Before)
	assert.Equal(t, "Laguna Seca", entries[0].After)
	assert.NotEmpty(t, entries[0].AfterSha)
	require.NotNil(t, entries[0].Verified)
	assert.True(t, *entries[0].Verified)
	assert.Equal(t, "aborted", entries[1].Outcome)
	assert.NotEmpty(t, entries[1].Error)
}

func TestApplyRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ldx")
	require.NoError(t, os.WriteFile(path, []byte("<LDXFile><Layers>"), 0o644))
	err := New(Options{}).Apply(path, "ldx_details_Track", "x", "")
	assert.True(t, errors.Is(err, ldx.ErrFormat), "got %v", err)

	err = New(Options{}).Apply(filepath.Join(t.TempDir(), "missing.ldx"), "ldx_details_Track", "x", "")
	assert.True(t, errors.Is(err, ldx.ErrIO), "got %v", err)
}

func TestContains(t *testing.T) {
	path := writeFixture(t)
	p := New(Options{})
	tests := []struct {
		name string
		want bool
	}{
		{"ldx_details_Fastest_Time", true},
		{"ldx_details_Nope", false},
		{"ldx_math_Wheel_Speed_scale", true},
		{"ldx_desc_Engine_RPM_unit", true},
		{"brake_bias", false},
	}
	for _, tc := range tests {
		got, err := p.Contains(path, tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestDocumentValue(t *testing.T) {
	tests := []struct {
		value, unit, comment, want string
	}{
		{"28", "psi", "", "28 psi"},
		{"28 PSI", "psi", "", "28 PSI"},
		{"28", "", "hot", "28 (hot)"},
		{"", "psi", "", ""},
		{"28", "psi", "  ", "28 psi"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, documentValue(tc.value, tc.unit, tc.comment))
	}
}
