package channels

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
)

const (
	MappingsFile = "channel_mappings.json"
	ProfilesFile = "car_profiles.json"
)

// ChannelConfig maps one internal telemetry channel to a vendor channel.
type ChannelConfig struct {
	InternalName string     `json:"internal_name"`
	VendorName   string     `json:"vendor_name"`
	Units        string     `json:"units"`
	Source       ldx.Source `json:"source"`
	Scaling      string     `json:"scaling,omitempty"`
	Math         string     `json:"math_expression,omitempty"`
	Enabled      bool       `json:"enabled"`
	Description  string     `json:"description,omitempty"`
}

// UnmarshalJSON defaults Enabled to true and accepts the legacy
// motec_name key for VendorName.
func (c *ChannelConfig) UnmarshalJSON(data []byte) error {
	type plain ChannelConfig
	aux := struct {
		*plain
		Enabled   *bool  `json:"enabled"`
		MotecName string `json:"motec_name"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Enabled = aux.Enabled == nil || *aux.Enabled
	if c.VendorName == "" {
		c.VendorName = aux.MotecName
	}
	src, ok := ldx.ParseSource(string(c.Source))
	if !ok {
		return fmt.Errorf("channel %q: unknown source %q", c.InternalName, c.Source)
	}
	c.Source = src
	return nil
}

// Channel converts an enabled mapping into an LDX channel entry.
func (c ChannelConfig) Channel() ldx.Channel {
	return ldx.Channel{Name: c.VendorName, Units: c.Units, Source: c.Source, Scaling: c.Scaling, Math: c.Math}
}

// Profile is a free-form per-car settings object.
type Profile map[string]any

// Store persists channel mappings and car profiles per car identifier.
// Every mutation is written through before it returns.
type Store struct {
	mu           sync.RWMutex
	mappingsPath string
	profilesPath string
	mappings     map[string][]ChannelConfig
	profiles     map[string]Profile
}

// Open loads both files from dir, creating empty ones when missing. A file
// that fails to parse is logged and treated as empty.
func Open(dir string) (*Store, error) {
	return OpenFiles(filepath.Join(dir, MappingsFile), filepath.Join(dir, ProfilesFile))
}

func OpenFiles(mappingsPath, profilesPath string) (*Store, error) {
	s := &Store{
		mappingsPath: mappingsPath,
		profilesPath: profilesPath,
		mappings:     map[string][]ChannelConfig{},
		profiles:     map[string]Profile{},
	}
	for _, p := range []string{mappingsPath, profilesPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}
	if err := loadJSONC(mappingsPath, &s.mappings); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			common.Logf("channels: could not load %s: %v", mappingsPath, err)
		}
		s.mappings = map[string][]ChannelConfig{}
		if errors.Is(err, os.ErrNotExist) {
			if err := writeJSON(mappingsPath, s.mappings); err != nil {
				return nil, err
			}
		}
	}
	if err := loadJSONC(profilesPath, &s.profiles); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			common.Logf("channels: could not load %s: %v", profilesPath, err)
		}
		s.profiles = map[string]Profile{}
		if errors.Is(err, os.ErrNotExist) {
			if err := writeJSON(profilesPath, s.profiles); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func loadJSONC(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	return json.Unmarshal(standardized, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(append(data, '\n')))
}

// Mappings returns a copy of the mappings for car, or nil.
func (s *Store) Mappings(car string) []ChannelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChannelConfig(nil), s.mappings[car]...)
}

// Enabled returns only the enabled mappings for car.
func (s *Store) Enabled(car string) []ChannelConfig {
	var out []ChannelConfig
	for _, m := range s.Mappings(car) {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// SetMappings replaces every mapping for car.
func (s *Store) SetMappings(car string, list []ChannelConfig) error {
	if err := checkUnique(list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.mappings[car]
	s.mappings[car] = append([]ChannelConfig(nil), list...)
	if err := writeJSON(s.mappingsPath, s.mappings); err != nil {
		if had {
			s.mappings[car] = prev
		} else {
			delete(s.mappings, car)
		}
		return ldx.IOError("save %s: %w", s.mappingsPath, err)
	}
	return nil
}

// AddMapping inserts m, replacing any mapping with the same internal name.
func (s *Store) AddMapping(car string, m ChannelConfig) error {
	list := s.Mappings(car)
	replaced := false
	for i := range list {
		if list[i].InternalName == m.InternalName {
			list[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, m)
	}
	return s.SetMappings(car, list)
}

// RemoveMapping reports whether a mapping was removed.
func (s *Store) RemoveMapping(car, internalName string) (bool, error) {
	list := s.Mappings(car)
	kept := list[:0]
	for _, m := range list {
		if m.InternalName != internalName {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}
	return true, s.SetMappings(car, kept)
}

func (s *Store) Profile(car string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[car]
	return p, ok
}

func (s *Store) SetProfile(car string, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.profiles[car]
	s.profiles[car] = p
	if err := writeJSON(s.profilesPath, s.profiles); err != nil {
		if had {
			s.profiles[car] = prev
		} else {
			delete(s.profiles, car)
		}
		return ldx.IOError("save %s: %w", s.profilesPath, err)
	}
	return nil
}

// InternalToVendor resolves an internal name through enabled mappings.
func (s *Store) InternalToVendor(car, internalName string) (string, bool) {
	for _, m := range s.Enabled(car) {
		if m.InternalName == internalName {
			return m.VendorName, true
		}
	}
	return "", false
}

func (s *Store) VendorToInternal(car, vendorName string) (string, bool) {
	for _, m := range s.Enabled(car) {
		if m.VendorName == vendorName {
			return m.InternalName, true
		}
	}
	return "", false
}

// CarIDs lists every car with mappings or a profile, sorted.
func (s *Store) CarIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for car := range s.mappings {
		seen[car] = true
	}
	for car := range s.profiles {
		seen[car] = true
	}
	out := make([]string, 0, len(seen))
	for car := range seen {
		out = append(out, car)
	}
	sort.Strings(out)
	return out
}

func checkUnique(list []ChannelConfig) error {
	enabled := map[string]bool{}
	for _, m := range list {
		if m.InternalName == "" {
			return ldx.ValidationError("mapping with empty internal name")
		}
		if !m.Enabled {
			continue
		}
		if enabled[m.InternalName] {
			return ldx.ValidationError("two enabled mappings for internal channel %q", m.InternalName)
		}
		enabled[m.InternalName] = true
	}
	return nil
}
