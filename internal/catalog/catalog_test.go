package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromJSONValidation(t *testing.T) {
	tests := []struct {
		name    string
		file    JSONFile
		wantErr string
	}{
		{name: "empty name", file: JSONFile{Parameters: []JSONEntry{{ParameterName: " "}}}, wantErr: "empty parameter_name"},
		{name: "duplicate", file: JSONFile{Parameters: []JSONEntry{{ParameterName: "a"}, {ParameterName: "a"}}}, wantErr: "duplicate"},
		{name: "ok", file: Default()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromJSON(tc.file)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestLookupAndDisplayInfo(t *testing.T) {
	store, err := FromJSON(Default())
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	display, unit, ok := store.DisplayInfo("tire_pressure_fl")
	if !ok || display != "Front Left Tire Pressure" || unit != "psi" {
		t.Fatalf("DisplayInfo = %q %q %v", display, unit, ok)
	}
	if _, _, ok := store.DisplayInfo("brake_bias"); ok {
		t.Fatalf("unexpected entry for brake_bias")
	}
	var nilStore *Store
	if _, ok := nilStore.Lookup("x"); ok || !nilStore.IsEmpty() {
		t.Fatalf("nil store should be empty")
	}
	if got := store.BySubteam()["Mechanical"]; len(got) != 4 {
		t.Fatalf("BySubteam = %v", got)
	}
}

func TestLoadAcceptsCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "car_parameters.json")
	data := `{
  // hand-edited
  "parameters": [
    {"parameter_name": "brake_bias", "display_name": "Brake Bias", "unit": "%", "motec_channel": "BrakeBias",},
  ],
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, ok := store.Lookup("brake_bias")
	if !ok || entry.Unit != "%" || entry.MotecChannel != "BrakeBias" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestEnsureLoadedWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "car_parameters.json")
	store, err := EnsureLoaded(path)
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if len(store.Entries()) != 4 {
		t.Fatalf("expected default entries, got %d", len(store.Entries()))
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded.Entries()) != 4 || reloaded.Entries()[0].Name != "tire_pressure_fl" {
		t.Fatalf("reloaded = %+v", reloaded.Entries())
	}
	if _, err := EnsureLoaded(filepath.Dir(path)); err == nil {
		t.Fatalf("expected error for directory path")
	}
	if _, err := EnsureLoaded(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
