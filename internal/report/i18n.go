package report

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"example.com/ldxsync/internal/ldx"
)

// Language is a supported sheet language.
type Language string

const (
	LangEnglish Language = "en"
	LangTurkish Language = "tr"
)

var ErrUnsupportedLanguage = errors.New("report: unsupported language")

// codepage is the single-byte encoding the core PDF fonts are fed in.
func (l Language) codepage() string {
	if l == LangTurkish {
		return "cp1254"
	}
	return "cp1252"
}

//go:embed en.json tr.json
var labelFiles embed.FS

// labels maps sheet label keys to text in one language.
type labels map[string]string

var (
	labelsOnce  sync.Once
	sheetLabels map[Language]labels
)

// labelsFor returns the labels of lang, or English for a language without a
// label file.
func labelsFor(lang Language) labels {
	labelsOnce.Do(func() {
		sheetLabels = map[Language]labels{}
		for _, l := range []Language{LangEnglish, LangTurkish} {
			data, err := labelFiles.ReadFile(string(l) + ".json")
			if err != nil {
				panic(fmt.Sprintf("report: %s labels: %v", l, err))
			}
			var parsed labels
			if err := json.Unmarshal(data, &parsed); err != nil {
				panic(fmt.Sprintf("report: %s labels: %v", l, err))
			}
			sheetLabels[l] = parsed
		}
	})
	if lb, ok := sheetLabels[lang]; ok {
		return lb
	}
	return sheetLabels[LangEnglish]
}

// text falls back to the English label, then to key itself.
func (lb labels) text(key string) string {
	if v, ok := lb[key]; ok {
		return v
	}
	if v, ok := sheetLabels[LangEnglish][key]; ok {
		return v
	}
	return key
}

func (lb labels) kind(k ldx.Kind) string {
	return lb.text("kind." + string(k))
}

// ParseLanguage maps a flag, config or request value onto a Language.
// Unknown values return English together with ErrUnsupportedLanguage.
func ParseLanguage(lang string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "en", "en-us", "en-gb", "english":
		return LangEnglish, nil
	case "tr", "tr-tr", "turkish", "türkçe", "turkce":
		return LangTurkish, nil
	}
	return LangEnglish, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
}
