package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/translate"
)

// SetupSheet is the printable summary of one LDX file.
type SetupSheet struct {
	Workspace   string             `json:"workspace"`
	Car         string             `json:"car,omitempty"`
	File        string             `json:"file"`
	Size        int64              `json:"size"`
	SHA256      string             `json:"sha256"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Parameters  []translate.Record `json:"parameters"`
}

// BuildSetupSheet decodes the LDX file at path and flattens it into a sheet.
func BuildSetupSheet(path string, codec *ldx.Codec) (SetupSheet, error) {
	if codec == nil {
		codec = ldx.DefaultCodec()
	}
	doc, err := codec.DecodeFile(path)
	if err != nil {
		return SetupSheet{}, err
	}
	sum, size, err := common.Sha256OfFile(path)
	if err != nil {
		return SetupSheet{}, ldx.IOError("hash %s: %w", path, err)
	}
	return SetupSheet{
		Workspace:   doc.WorkspaceName,
		Car:         doc.CarName,
		File:        filepath.Base(path),
		Size:        size,
		SHA256:      sum,
		GeneratedAt: time.Now().UTC(),
		Parameters:  translate.ToParameters(doc, translate.DefaultOptions),
	}, nil
}

func SaveSetupSheetJSON(sheet SetupSheet, out string) error {
	b, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func LoadSetupSheetJSON(path string) (SetupSheet, error) {
	var sheet SetupSheet
	b, err := os.ReadFile(path)
	if err != nil {
		return sheet, err
	}
	err = json.Unmarshal(b, &sheet)
	return sheet, err
}
