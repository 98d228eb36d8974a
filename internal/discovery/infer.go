package discovery

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	datePattern    = regexp.MustCompile(`(\d{4}-?\d{2}-?\d{2})`)
	sessionPattern = regexp.MustCompile(`(?i)session[_-]?(\w+)`)
	carPattern     = regexp.MustCompile(`(?i)^car[_-]?\d+\w*$`)
)

// InferSession suggests a session ID from a file name: "<date>_<session>"
// when both a YYYYMMDD or YYYY-MM-DD date and a session marker are present,
// "session_<date>" for a date alone, or the session marker alone.
func InferSession(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	session := ""
	if m := sessionPattern.FindStringSubmatch(base); m != nil {
		session = m[1]
	}
	if m := datePattern.FindStringSubmatch(base); m != nil {
		date := strings.ReplaceAll(m[1], "-", "")
		if session != "" {
			return date + "_" + session
		}
		return "session_" + date
	}
	return session
}

// InferCar returns the first directory component of path that names a car,
// such as "Car1" or "car_07".
func InferCar(path string) string {
	dir := filepath.Dir(filepath.Clean(path))
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if carPattern.MatchString(part) {
			return part
		}
	}
	return ""
}
