package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Entry defines one tracked car parameter.
type Entry struct {
	Name         string
	DisplayName  string
	Subteam      string
	Unit         string
	DefaultValue string
	MinValue     string
	MaxValue     string
	MotecChannel string
	Description  string
}

type Store struct {
	entries map[string]Entry
	order   []string
}

type JSONFile struct {
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version,omitempty"`
	Parameters  []JSONEntry `json:"parameters"`
}

type JSONEntry struct {
	ParameterName string  `json:"parameter_name"`
	DisplayName   string  `json:"display_name"`
	Subteam       string  `json:"subteam,omitempty"`
	Unit          string  `json:"unit,omitempty"`
	DefaultValue  string  `json:"default_value,omitempty"`
	MinValue      string  `json:"min_value,omitempty"`
	MaxValue      string  `json:"max_value,omitempty"`
	MotecChannel  *string `json:"motec_channel"`
	Description   string  `json:"description,omitempty"`
}

func FromJSON(file JSONFile) (*Store, error) {
	store := &Store{entries: make(map[string]Entry)}
	for i, entry := range file.Parameters {
		name := strings.TrimSpace(entry.ParameterName)
		if name == "" {
			return nil, fmt.Errorf("parameters[%d]: empty parameter_name", i)
		}
		if _, exists := store.entries[name]; exists {
			return nil, fmt.Errorf("parameters[%d]: duplicate parameter_name %q", i, name)
		}
		e := Entry{
			Name:         name,
			DisplayName:  strings.TrimSpace(entry.DisplayName),
			Subteam:      strings.TrimSpace(entry.Subteam),
			Unit:         strings.TrimSpace(entry.Unit),
			DefaultValue: entry.DefaultValue,
			MinValue:     entry.MinValue,
			MaxValue:     entry.MaxValue,
			Description:  entry.Description,
		}
		if entry.MotecChannel != nil {
			e.MotecChannel = strings.TrimSpace(*entry.MotecChannel)
		}
		store.entries[name] = e
		store.order = append(store.order, name)
	}
	return store, nil
}

func (s *Store) Lookup(name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	entry, ok := s.entries[name]
	return entry, ok
}

// DisplayInfo returns the display name and unit for name.
func (s *Store) DisplayInfo(name string) (string, string, bool) {
	entry, ok := s.Lookup(name)
	if !ok {
		return "", "", false
	}
	return entry.DisplayName, entry.Unit, true
}

// Entries returns every entry in file order.
func (s *Store) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name])
	}
	return out
}

// BySubteam groups entry names per subteam, each list sorted.
func (s *Store) BySubteam() map[string][]string {
	out := map[string][]string{}
	for _, e := range s.Entries() {
		team := e.Subteam
		if team == "" {
			team = "General"
		}
		out[team] = append(out[team], e.Name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func (s *Store) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.entries) == 0
}

// ToJSON is the inverse of FromJSON.
func (s *Store) ToJSON() JSONFile {
	file := JSONFile{
		Description: "Car parameters to track - definitions and default values",
		Version:     "1.0",
		Parameters:  []JSONEntry{},
	}
	for _, e := range s.Entries() {
		je := JSONEntry{
			ParameterName: e.Name,
			DisplayName:   e.DisplayName,
			Subteam:       e.Subteam,
			Unit:          e.Unit,
			DefaultValue:  e.DefaultValue,
			MinValue:      e.MinValue,
			MaxValue:      e.MaxValue,
			Description:   e.Description,
		}
		if e.MotecChannel != "" {
			ch := e.MotecChannel
			je.MotecChannel = &ch
		}
		file.Parameters = append(file.Parameters, je)
	}
	return file
}

// Default is the catalog written when no catalog file exists yet.
func Default() JSONFile {
	corner := func(code, label string) JSONEntry {
		return JSONEntry{
			ParameterName: "tire_pressure_" + code,
			DisplayName:   label + " Tire Pressure",
			Subteam:       "Mechanical",
			Unit:          "psi",
			DefaultValue:  "20.0",
			MinValue:      "10.0",
			MaxValue:      "40.0",
			Description:   label + " tire pressure in PSI",
		}
	}
	return JSONFile{
		Description: "Car parameters to track - definitions and default values",
		Version:     "1.0",
		Parameters: []JSONEntry{
			corner("fl", "Front Left"),
			corner("fr", "Front Right"),
			corner("rl", "Rear Left"),
			corner("rr", "Rear Right"),
		},
	}
}
