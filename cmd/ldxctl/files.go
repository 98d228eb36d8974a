package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldfile"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/patch"
	"example.com/ldxsync/internal/report"
	"example.com/ldxsync/internal/translate"
)

func writeJSONTo(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isLDX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".ldx")
}

func inspectCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("inspect")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "a file")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	if !isLDX(path) {
		md := ldfile.NewReader(cfg.Session.HeaderWindow).Read(path)
		if *asJSON {
			return writeJSONTo(out, md)
		}
		if !md.Valid {
			return ldx.ValidationError("invalid LD file %s: %s", path, md.Error)
		}
		start := ""
		if md.StartTime != nil {
			start = md.StartTime.Format("2006-01-02 15:04:05")
		}
		return renderTable(out, []string{"FIELD", "VALUE"}, [][]string{
			{"File", md.FilePath},
			{"Size", common.FormatBytes(md.FileSize)},
			{"Signature", md.Signature},
			{"Date", md.Date},
			{"Time", md.Time},
			{"Start", start},
			{"Device", md.DeviceName},
			{"Track", md.TrackName},
			{"Driver", md.DriverName},
		})
	}

	codec := ldx.DefaultCodec()
	doc, err := codec.DecodeFile(path)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSONTo(out, doc)
	}
	return renderTable(out, []string{"FIELD", "VALUE"}, [][]string{
		{"Workspace", doc.WorkspaceName},
		{"Project", doc.ProjectName},
		{"Car", doc.CarName},
		{"Version", doc.Version},
		{"Channels", fmt.Sprint(len(doc.Channels))},
		{"Worksheets", fmt.Sprint(len(doc.Worksheets))},
		{"Details", fmt.Sprint(len(doc.Details))},
		{"Math items", fmt.Sprint(len(doc.MathItems))},
		{"Descriptors", fmt.Sprint(len(doc.Descriptors))},
		{"Markers", fmt.Sprint(doc.MarkerCount())},
		{"Backend", codec.LastBackend()},
	})
}

func paramsCmd(out io.Writer, args []string) error {
	fs, _ := newFlagSet("params")
	asJSON := fs.Bool("json", false, "print JSON")
	noDetails := fs.Bool("no-details", false, "omit Details entries")
	noMath := fs.Bool("no-math", false, "omit math items")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LDX file")
	if err != nil {
		return err
	}
	doc, err := ldx.DefaultCodec().DecodeFile(path)
	if err != nil {
		return err
	}
	records := translate.ToParameters(doc, translate.Options{IncludeDetails: !*noDetails, IncludeMathItems: !*noMath})
	if *asJSON {
		if records == nil {
			records = []translate.Record{}
		}
		return writeJSONTo(out, records)
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Name, r.Value, r.Unit, string(r.Kind)})
	}
	return renderTable(out, []string{"PARAMETER", "VALUE", "UNIT", "KIND"}, rows)
}

func patchCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("patch")
	name := fs.StringP("name", "n", "", "parameter name")
	value := fs.StringP("value", "v", "", "new value")
	comment := fs.String("comment", "", "comment stored with documentation parameters")
	verify := fs.String("verify", "", "verification policy: diagnostic or strict")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LDX file")
	if err != nil {
		return err
	}
	if *name == "" || !fs.Changed("value") {
		return fmt.Errorf("patch: --name and --value are required: %w", errUsage)
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	p, err := newPatcher(cfg, *verify)
	if err != nil {
		return err
	}
	if err := p.Apply(path, *name, *value, *comment); err != nil {
		return err
	}
	fmt.Fprintf(out, "patched %s: %s = %s\n", path, *name, *value)
	return nil
}

func mergeCmd(out io.Writer, args []string) error {
	fs, _ := newFlagSet("merge")
	template := fs.StringP("template", "t", "", "template LDX file")
	sets := fs.StringArray("set", nil, "name=value record (repeatable)")
	paramsPath := fs.String("params", "", "JSON file with a record array or a name/value object")
	strategy := fs.String("strategy", string(translate.MergeRecords), "merge strategy")
	outPath := fs.StringP("out", "o", "", "output LDX file")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *outPath == "" {
		return fmt.Errorf("merge: --out is required: %w", errUsage)
	}
	st, err := translate.ParseStrategy(*strategy)
	if err != nil {
		return err
	}
	var tmpl *ldx.Document
	if *template != "" {
		if tmpl, err = ldx.DefaultCodec().DecodeFile(*template); err != nil {
			return err
		}
	}
	records, err := collectRecords(*sets, *paramsPath)
	if err != nil {
		return err
	}
	doc, err := translate.Merge(tmpl, records, st)
	if err != nil {
		return err
	}
	data, err := ldx.DefaultCodec().Encode(doc)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(*outPath, bytes.NewReader(data)); err != nil {
		return ldx.IOError("write %s: %w", *outPath, err)
	}
	fmt.Fprintf(out, "wrote %s (%d records, strategy %s)\n", *outPath, len(records), st)
	return nil
}

// collectRecords reads --set pairs and an optional JSON file holding either
// a record array or a plain name/value object.
func collectRecords(sets []string, paramsPath string) ([]translate.Record, error) {
	values := map[string]string{}
	var records []translate.Record
	if paramsPath != "" {
		data, err := os.ReadFile(paramsPath)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
			if err := json.Unmarshal(data, &records); err != nil {
				return nil, fmt.Errorf("parse %s: %w", paramsPath, err)
			}
			for i := range records {
				if records[i].Kind == "" {
					records[i].Kind = ldx.ParseParameterName(records[i].Name).Kind
				}
			}
		} else if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse %s: %w", paramsPath, err)
		}
	}
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("merge: --set %q is not name=value: %w", s, errUsage)
		}
		values[strings.TrimSpace(name)] = value
	}
	return append(records, translate.RecordsFromValues(values)...), nil
}

// restoreCmd puts the pre-mutation backup back in place.
func restoreCmd(out io.Writer, args []string) error {
	fs, _ := newFlagSet("restore")
	audit := fs.String("audit", "", "audit log to summarize before restoring")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LDX file")
	if err != nil {
		return err
	}
	backup := path + patch.BackupSuffix
	if !common.FileExists(backup) {
		return ldx.NotFoundError("no backup %s", backup)
	}
	if _, err := ldx.DefaultCodec().DecodeFile(backup); err != nil {
		return fmt.Errorf("backup is not a readable LDX file: %w", err)
	}
	if *audit != "" {
		entries, err := common.ReadPatchLog(*audit)
		if err != nil {
			return err
		}
		undone := 0
		for _, e := range entries {
			if e.Outcome == "committed" && sameFile(e.File, path) && e.Changed() {
				undone++
			}
		}
		fmt.Fprintf(out, "audit log lists %d committed change(s) to %s\n", undone, filepath.Base(path))
	}
	before, _, _ := common.Sha256OfFile(path)
	f, err := os.Open(backup)
	if err != nil {
		return ldx.IOError("open %s: %w", backup, err)
	}
	defer f.Close()
	if err := atomic.WriteFile(path, f); err != nil {
		return ldx.IOError("restore %s: %w", path, err)
	}
	after, _, err := common.Sha256OfFile(path)
	if err != nil {
		return ldx.IOError("hash %s: %w", path, err)
	}
	fmt.Fprintf(out, "restored %s from %s\n", path, filepath.Base(backup))
	if before != "" {
		fmt.Fprintf(out, "patched SHA256:  %s\n", before)
	}
	fmt.Fprintf(out, "restored SHA256: %s\n", after)
	return nil
}

func sameFile(a, b string) bool {
	ra, err1 := filepath.Abs(a)
	rb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	if ea, err := filepath.EvalSymlinks(ra); err == nil {
		ra = ea
	}
	if eb, err := filepath.EvalSymlinks(rb); err == nil {
		rb = eb
	}
	return ra == rb
}

func reportCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("report")
	pdfPath := fs.StringP("out", "o", "", "PDF output path")
	jsonPath := fs.String("json", "", "also write the sheet as JSON")
	langFlag := fs.String("lang", "", "sheet language (en or tr)")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LDX file")
	if err != nil {
		return err
	}
	if *pdfPath == "" && *jsonPath == "" {
		return fmt.Errorf("report: --out or --json is required: %w", errUsage)
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	lang := cfg.Lang
	if *langFlag != "" {
		lang = *langFlag
	}
	language, err := report.ParseLanguage(lang)
	if err != nil {
		return err
	}
	sheet, err := report.BuildSetupSheet(path, nil)
	if err != nil {
		return err
	}
	if *jsonPath != "" {
		if err := report.SaveSetupSheetJSON(sheet, *jsonPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", *jsonPath)
	}
	if *pdfPath != "" {
		if err := report.SaveSetupSheetPDF(sheet, *pdfPath, language); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d parameters, sha256 %s)\n", *pdfPath, len(sheet.Parameters), common.ShortHash(sheet.SHA256))
	}
	return nil
}
