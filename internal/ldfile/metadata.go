package ldfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"example.com/ldxsync/internal/ldx"
)

const (
	// DefaultHeaderWindow is how many leading bytes are scanned for strings.
	DefaultHeaderWindow = 2048
	// MinFileSize is the smallest LD file considered valid.
	MinFileSize = 512

	maxStoredStrings = 50
)

// Metadata is a lightweight summary of an LD file. It is recomputed on
// every read. Callers must check Valid.
type Metadata struct {
	FilePath   string     `json:"filePath"`
	FileSize   int64      `json:"fileSize"`
	Valid      bool       `json:"valid"`
	Error      string     `json:"error,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	Channels   []string   `json:"channels,omitempty"`
	Date       string     `json:"date,omitempty"`
	Time       string     `json:"time,omitempty"`
	DeviceName string     `json:"deviceName,omitempty"`
	TrackName  string     `json:"trackName,omitempty"`
	DriverName string     `json:"driverName,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	Strings    []string   `json:"strings,omitempty"`
}

// Reader reads LD metadata with a fixed header window.
type Reader struct {
	window int
}

func NewReader(window int) *Reader {
	if window <= 0 {
		window = DefaultHeaderWindow
	}
	return &Reader{window: window}
}

func (r *Reader) Read(path string) Metadata {
	return Read(path, r.window)
}

// Read inspects only the first window bytes of path. Failures are reported
// through Valid and Error, never as a panic or error return.
func Read(path string, window int) Metadata {
	if window <= 0 {
		window = DefaultHeaderWindow
	}
	md := Metadata{FilePath: path}
	info, err := os.Stat(path)
	if err != nil {
		md.Error = fmt.Sprintf("cannot access file: %v", err)
		return md
	}
	if !info.Mode().IsRegular() {
		md.Error = "not a regular file"
		return md
	}
	md.FileSize = info.Size()
	if md.FileSize < MinFileSize {
		md.Error = fmt.Sprintf("file too small: %d bytes (minimum %d)", md.FileSize, MinFileSize)
		return md
	}

	f, err := os.Open(path)
	if err != nil {
		md.Error = fmt.Sprintf("open: %v", err)
		return md
	}
	defer f.Close()
	buf := make([]byte, window)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		md.Error = fmt.Sprintf("read header: %v", err)
		return md
	}
	buf = buf[:n]

	h := ParseHeader(buf)
	md.Date = h.Date
	md.Time = h.Time
	md.DeviceName = h.Device
	md.TrackName = h.Track
	md.DriverName = h.Driver
	md.Strings = h.Strings
	if len(md.Strings) > maxStoredStrings {
		md.Strings = md.Strings[:maxStoredStrings]
	}
	if len(buf) >= 4 {
		md.Signature = hex.EncodeToString(buf[:4])
	}
	md.StartTime = startTime(h.Date, h.Time, info.ModTime())
	md.Valid = true
	return md
}

// startTime combines the inferred DD/MM/YYYY date and time, falling back to
// the modification time.
func startTime(date, clock string, modTime time.Time) *time.Time {
	if date != "" {
		layout, value := "02/01/2006", date
		if clock != "" {
			layout, value = layout+" 15:04:05", value+" "+clock
		}
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return &t
		}
	}
	t := modTime
	return &t
}

// ISODate converts the inferred DD/MM/YYYY date to YYYY-MM-DD. It returns
// "" when no date was inferred or it does not parse.
func (m Metadata) ISODate() string {
	if m.Date == "" {
		return ""
	}
	t, err := time.Parse("02/01/2006", m.Date)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// Validate returns a validation error when path is not a usable LD file.
func Validate(path string) error {
	md := Read(path, MinFileSize)
	if !md.Valid {
		return ldx.ValidationError("invalid LD file %s: %s", path, md.Error)
	}
	return nil
}
