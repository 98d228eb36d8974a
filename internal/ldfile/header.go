package ldfile

import (
	"regexp"
	"strings"
)

const minRunLength = 3

var (
	datePattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
	timePattern = regexp.MustCompile(`\d{2}:\d{2}:\d{2}`)

	// Matched against the upper-cased string.
	deviceTokens = []string{"SCR", "M1", "M150", "GPRP", "PDM"}
	// Strings containing these never name a driver.
	nonDriverTokens = []string{"SCR", "M1", "GPRP", "PDM", "GPS"}
	// Matched case-sensitively.
	trackTokens = []string{"Track", "Raceway", "Speedway", "Circuit", "Pomona"}
)

// Header is what the heuristics could infer from the leading bytes.
type Header struct {
	Strings []string
	Date    string
	Time    string
	Device  string
	Track   string
	Driver  string
}

// ExtractStrings returns every run of printable ASCII (0x20-0x7e) of at
// least minLen bytes, trimmed of surrounding spaces.
func ExtractStrings(data []byte, minLen int) []string {
	var out []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minLen {
			if s := strings.TrimSpace(string(data[start:end])); s != "" {
				out = append(out, s)
			}
		}
		start = -1
	}
	for i, b := range data {
		if b >= 32 && b <= 126 {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))
	return out
}

// ParseHeader extracts strings from data and classifies them.
func ParseHeader(data []byte) Header {
	return Classify(ExtractStrings(data, minRunLength))
}

// Classify applies the heuristics in priority order: date and time (first
// match wins), device and track tokens (first match wins), then the longest
// plain alphanumeric string as the driver. Ties keep the earlier string.
func Classify(runs []string) Header {
	h := Header{Strings: runs}
	for _, s := range runs {
		isDate := datePattern.MatchString(s)
		isTime := timePattern.MatchString(s)
		if isDate && h.Date == "" {
			h.Date = datePattern.FindString(s)
		}
		if isTime && h.Time == "" {
			h.Time = timePattern.FindString(s)
		}
		upper := strings.ToUpper(s)
		isDevice := containsAny(upper, deviceTokens)
		if isDevice && h.Device == "" {
			h.Device = s
		}
		isTrack := containsAny(s, trackTokens)
		if isTrack && h.Track == "" {
			h.Track = s
		}
		if isDate || isTime || isDevice || isTrack || containsAny(upper, nonDriverTokens) {
			continue
		}
		if looksLikeName(s) && len(s) > len(h.Driver) {
			h.Driver = s
		}
	}
	return h
}

// looksLikeName accepts 3 to 29 byte runs.
func looksLikeName(s string) bool {
	if len(s) < 3 || len(s) > 29 {
		return false
	}
	compact := strings.ReplaceAll(s, " ", "")
	if compact == "" {
		return false
	}
	for _, r := range compact {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
