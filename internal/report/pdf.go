package report

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/translate"
)

const qrImageName = "digest-qr"

// kindOrder is the order parameter groups appear on the sheet.
var kindOrder = map[ldx.Kind]int{
	ldx.KindDetails:        0,
	ldx.KindGeneric:        1,
	ldx.KindMathScale:      2,
	ldx.KindMathOffset:     3,
	ldx.KindDescriptorDPS:  4,
	ldx.KindDescriptorUnit: 5,
}

// SaveSetupSheetPDF renders sheet as an A4 setup sheet in lang, with a QR
// code of the file digest so a printed sheet can be matched to its file.
func SaveSetupSheetPDF(sheet SetupSheet, out string, lang Language) error {
	lb := labelsFor(lang)
	pdf := gofpdf.New("P", "mm", "A4", "")
	enc := pdf.UnicodeTranslatorFromDescriptor(lang.codepage())
	title := lb.text("title")
	pdf.SetTitle(title, true)
	pdf.SetAuthor("ldxctl", false)
	pdf.SetCreator("ldxctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, enc(title+" - "+emptyFallback(sheet.Workspace, "-")))
	pdf.Ln(12)

	addSummarySection(pdf, lb, enc, sheet)
	if err := addDigestSection(pdf, lb, enc, sheet.SHA256); err != nil {
		return err
	}
	addParametersSection(pdf, lb, enc, sheet.Parameters)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addSummarySection(pdf *gofpdf.Fpdf, lb labels, enc func(string) string, sheet SetupSheet) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(lb.text("section.summary")))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	generated := "-"
	if !sheet.GeneratedAt.IsZero() {
		generated = sheet.GeneratedAt.Format(time.RFC3339)
	}
	items := []struct {
		label string
		value string
	}{
		{lb.text("label.workspace"), emptyFallback(sheet.Workspace, "-")},
		{lb.text("label.car"), emptyFallback(sheet.Car, "-")},
		{lb.text("label.file"), emptyFallback(sheet.File, "-")},
		{lb.text("label.size"), common.FormatBytes(sheet.Size)},
		{lb.text("label.count"), strconv.Itoa(len(sheet.Parameters))},
		{lb.text("label.generated"), generated},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, enc(item.label), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, enc(item.value), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addDigestSection(pdf *gofpdf.Fpdf, lb labels, enc func(string) string, digest string) error {
	if normalizeDigest(digest) == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return err
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(lb.text("section.digest")))
	pdf.Ln(9)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	x, y := pdf.GetXY()
	pdf.ImageOptions(qrImageName, x, y, 32, 32, false, opts, 0, "")
	pdf.SetXY(x+36, y+10)
	pdf.SetFont("Courier", "", 8)
	pdf.MultiCell(0, 4, lb.text("label.sha256")+": "+normalizeDigest(digest), "", "L", false)
	pdf.SetXY(x, y+36)
	return nil
}

func addParametersSection(pdf *gofpdf.Fpdf, lb labels, enc func(string) string, records []translate.Record) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(lb.text("section.parameters")))
	pdf.Ln(9)

	if len(records) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, enc(lb.text("empty")), "", "L", false)
		return
	}

	headers := []string{lb.text("col.kind"), lb.text("col.parameter"), lb.text("col.value"), lb.text("col.unit")}
	widths := []float64{32, 78, 50, 20}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, enc(h), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, r := range sortedRecords(records) {
		values := []string{lb.kind(r.Kind), r.Name, r.Value, r.Unit}
		for i := range values {
			values[i] = enc(values[i])
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

// sortedRecords groups records by kind and keeps their order within a
// group.
func sortedRecords(records []translate.Record) []translate.Record {
	out := append([]translate.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return kindOrder[out[i].Kind] < kindOrder[out[j].Kind]
	})
	return out
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		var lines []string
		for _, l := range pdf.SplitLines([]byte(text), widths[i]-2) {
			lines = append(lines, string(l))
		}
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if yStart+rowHeight > pageHeight-bottom {
		pdf.AddPage()
		xStart, yStart = pdf.GetX(), pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
