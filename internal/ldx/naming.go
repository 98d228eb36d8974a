package ldx

import (
	"strings"
	"unicode"
)

// Parameter name prefixes bridging LDX identifiers and external parameter
// names. The encoding is a stable contract with the parameter store.
const (
	DetailsPrefix    = "ldx_details_"
	MathPrefix       = "ldx_math_"
	DescriptorPrefix = "ldx_desc_"
)

// Field suffixes used after the identifier.
const (
	FieldScale  = "scale"
	FieldOffset = "offset"
	FieldDPS    = "dps"
	FieldUnit   = "unit"
)

// Kind classifies a parameter by where it lives inside an LDX file.
type Kind string

const (
	KindDetails        Kind = "details"
	KindMathScale      Kind = "math_scale"
	KindMathOffset     Kind = "math_offset"
	KindDescriptorDPS  Kind = "descriptor_dps"
	KindDescriptorUnit Kind = "descriptor_unit"
	KindGeneric        Kind = "generic"
)

// Structural reports whether the kind maps onto an existing LDX node.
func (k Kind) Structural() bool {
	switch k {
	case KindDetails, KindMathScale, KindMathOffset, KindDescriptorDPS, KindDescriptorUnit:
		return true
	}
	return false
}

// ParameterName is a decoded parameter name.
type ParameterName struct {
	Kind  Kind
	ID    string // identifier as it appears in the name, underscored
	Field string
}

// Forms holds the two spellings an identifier may have inside a file.
type Forms struct {
	Underscored string
	Spaced      string
}

// Candidates returns the distinct forms, underscored first.
func (f Forms) Candidates() []string {
	if f.Spaced == f.Underscored {
		return []string{f.Underscored}
	}
	return []string{f.Underscored, f.Spaced}
}

// Match reports whether id equals either form.
func (f Forms) Match(id string) bool {
	return id == f.Underscored || id == f.Spaced
}

// MatchEncoded reports whether id encodes to the underscored form, as a
// file Id such as "Wing F/R" does for "Wing_F_R". It is the last resort
// after an exact match on either form.
func (f Forms) MatchEncoded(id string) bool {
	return sanitizeID(id) == f.Underscored
}

// BothForms canonicalizes an identifier into its underscored and spaced
// spellings. Upstream tools use both for the same node.
func BothForms(id string) Forms {
	return Forms{
		Underscored: strings.ReplaceAll(id, " ", "_"),
		Spaced:      strings.ReplaceAll(id, "_", " "),
	}
}

func sanitizeID(id string) string {
	return strings.NewReplacer(" ", "_", "/", "_").Replace(id)
}

func DetailsParameterName(id string) string {
	return DetailsPrefix + sanitizeID(id)
}

func MathParameterName(id, field string) string {
	return MathPrefix + sanitizeID(id) + "_" + field
}

func DescriptorParameterName(id string) string {
	return DescriptorPrefix + sanitizeID(id) + "_" + FieldDPS
}

// ParseParameterName decodes name. Names that do not carry a structural
// prefix, or whose field suffix is unknown, are generic.
func ParseParameterName(name string) ParameterName {
	switch {
	case strings.HasPrefix(name, DetailsPrefix):
		id := strings.TrimPrefix(name, DetailsPrefix)
		if id != "" {
			return ParameterName{Kind: KindDetails, ID: id}
		}
	case strings.HasPrefix(name, MathPrefix):
		id, field, ok := splitField(strings.TrimPrefix(name, MathPrefix))
		if ok {
			switch strings.ToLower(field) {
			case FieldScale:
				return ParameterName{Kind: KindMathScale, ID: id, Field: FieldScale}
			case FieldOffset:
				return ParameterName{Kind: KindMathOffset, ID: id, Field: FieldOffset}
			}
		}
	case strings.HasPrefix(name, DescriptorPrefix):
		id, field, ok := splitField(strings.TrimPrefix(name, DescriptorPrefix))
		if ok {
			switch strings.ToLower(field) {
			case FieldDPS, "displaydps":
				return ParameterName{Kind: KindDescriptorDPS, ID: id, Field: FieldDPS}
			case FieldUnit, "displayunit":
				return ParameterName{Kind: KindDescriptorUnit, ID: id, Field: FieldUnit}
			}
		}
	}
	return ParameterName{Kind: KindGeneric, ID: name}
}

// splitField splits on the last underscore: the identifier may itself
// contain underscores.
func splitField(rest string) (string, string, bool) {
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// TitleCase turns brake_bias into "Brake Bias".
func TitleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
