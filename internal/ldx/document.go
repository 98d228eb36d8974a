package ldx

import (
	"sort"
	"strings"
	"time"
)

// Defaults applied to documents synthesized from scratch.
const (
	DefaultLocale        = "English_United States.1252"
	DefaultDefaultLocale = "C"
	DefaultVersion       = "1.6"
	DefaultMarkerVersion = "100"
	DefaultDisplayDPS    = "4"
	DefaultScale         = "1"
	DefaultOffset        = "0"
)

// Source is the origin of a logged channel.
type Source string

const (
	SourceCAN        Source = "CAN"
	SourceDerived    Source = "derived"
	SourceCalculated Source = "calculated"
	SourceAnalog     Source = "analog"
	SourceDigital    Source = "digital"
)

var knownSources = []Source{SourceCAN, SourceDerived, SourceCalculated, SourceAnalog, SourceDigital}

// ParseSource matches s case-insensitively. An empty source means CAN.
func ParseSource(s string) (Source, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SourceCAN, true
	}
	for _, known := range knownSources {
		if strings.EqualFold(s, string(known)) {
			return known, true
		}
	}
	return "", false
}

type Channel struct {
	Name    string `json:"name"`
	Units   string `json:"units"`
	Source  Source `json:"source"`
	Scaling string `json:"scaling,omitempty"`
	Math    string `json:"math,omitempty"`
}

type Worksheet struct {
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Detail is one Details/String annotation.
type Detail struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// MathItem is a linear calibration: value' = value*Scale + Offset.
type MathItem struct {
	Scale  string `json:"scale"`
	Offset string `json:"offset"`
	Unit   string `json:"unit,omitempty"`
}

type Descriptor struct {
	DisplayUnit string `json:"displayUnit,omitempty"`
	DisplayDPS  string `json:"displayDps,omitempty"`
}

type Marker struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	ClassName string `json:"className,omitempty"`
	Flags     string `json:"flags,omitempty"`
	Time      string `json:"time,omitempty"`
}

type MarkerGroup struct {
	Name    string   `json:"name"`
	Index   string   `json:"index,omitempty"`
	Markers []Marker `json:"markers,omitempty"`
}

// Document is the in-memory form of an LDX workspace file.
type Document struct {
	WorkspaceName string `json:"workspaceName"`
	ProjectName   string `json:"projectName,omitempty"`
	CarName       string `json:"carName,omitempty"`
	Locale        string `json:"locale,omitempty"`
	DefaultLocale string `json:"defaultLocale,omitempty"`
	Version       string `json:"version,omitempty"`

	Channels     []Channel             `json:"channels,omitempty"`
	Worksheets   []Worksheet           `json:"worksheets,omitempty"`
	Details      []Detail              `json:"details,omitempty"`
	MathItems    map[string]MathItem   `json:"mathItems,omitempty"`
	Descriptors  map[string]Descriptor `json:"descriptors,omitempty"`
	MarkerGroups []MarkerGroup         `json:"markerGroups,omitempty"`

	Created  *time.Time `json:"created,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
}

// New returns an empty document carrying the default locale and version.
func New(workspace string) *Document {
	return &Document{
		WorkspaceName: workspace,
		Locale:        DefaultLocale,
		DefaultLocale: DefaultDefaultLocale,
		Version:       DefaultVersion,
		MathItems:     map[string]MathItem{},
		Descriptors:   map[string]Descriptor{},
	}
}

// Validate checks the invariants required before serialization.
func (d *Document) Validate() error {
	if d == nil {
		return ValidationError("nil document")
	}
	if strings.TrimSpace(d.WorkspaceName) == "" {
		return ValidationError("workspace name is required")
	}
	seen := make(map[string]struct{}, len(d.Details))
	for _, det := range d.Details {
		if det.ID == "" {
			return ValidationError("details entry with empty id")
		}
		if _, dup := seen[det.ID]; dup {
			return ValidationError("duplicate details id %q", det.ID)
		}
		seen[det.ID] = struct{}{}
	}
	for _, ch := range d.Channels {
		if ch.Name == "" {
			return ValidationError("channel with empty name")
		}
	}
	return nil
}

// Detail returns the value stored under id.
func (d *Document) Detail(id string) (string, bool) {
	for _, det := range d.Details {
		if det.ID == id {
			return det.Value, true
		}
	}
	return "", false
}

// SetDetail updates id in place or appends it.
func (d *Document) SetDetail(id, value string) {
	for i := range d.Details {
		if d.Details[i].ID == id {
			d.Details[i].Value = value
			return
		}
	}
	d.Details = append(d.Details, Detail{ID: id, Value: value})
}

func (d *Document) SetMathItem(id string, item MathItem) {
	if d.MathItems == nil {
		d.MathItems = map[string]MathItem{}
	}
	d.MathItems[id] = item
}

func (d *Document) SetDescriptor(id string, desc Descriptor) {
	if d.Descriptors == nil {
		d.Descriptors = map[string]Descriptor{}
	}
	d.Descriptors[id] = desc
}

func (d *Document) MathIDs() []string {
	return sortedKeys(d.MathItems)
}

func (d *Document) DescriptorIDs() []string {
	return sortedKeys(d.Descriptors)
}

// MarkerCount is the total number of markers across groups.
func (d *Document) MarkerCount() int {
	n := 0
	for _, g := range d.MarkerGroups {
		n += len(g.Markers)
	}
	return n
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Channels = append([]Channel(nil), d.Channels...)
	out.Worksheets = make([]Worksheet, len(d.Worksheets))
	for i, ws := range d.Worksheets {
		ws.Channels = append([]string(nil), ws.Channels...)
		out.Worksheets[i] = ws
	}
	out.Details = append([]Detail(nil), d.Details...)
	out.MathItems = make(map[string]MathItem, len(d.MathItems))
	for k, v := range d.MathItems {
		out.MathItems[k] = v
	}
	out.Descriptors = make(map[string]Descriptor, len(d.Descriptors))
	for k, v := range d.Descriptors {
		out.Descriptors[k] = v
	}
	out.MarkerGroups = make([]MarkerGroup, len(d.MarkerGroups))
	for i, g := range d.MarkerGroups {
		g.Markers = append([]Marker(nil), g.Markers...)
		out.MarkerGroups[i] = g
	}
	if d.Created != nil {
		t := *d.Created
		out.Created = &t
	}
	if d.Modified != nil {
		t := *d.Modified
		out.Modified = &t
	}
	return &out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
