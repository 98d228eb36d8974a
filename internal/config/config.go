package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/patch"
	"example.com/ldxsync/internal/session"
)

type Logs struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type Discovery struct {
	Enabled         bool          `yaml:"enabled"`
	NASBasePath     string        `yaml:"nasBasePath"`
	LDScanDir       string        `yaml:"ldScanDir"`
	LDGlob          string        `yaml:"ldGlob"`
	LDXGlob         string        `yaml:"ldxGlob"`
	Interval        time.Duration `yaml:"interval"`
	MaxFilesPerScan int           `yaml:"maxFilesPerScan"`
	Inference       string        `yaml:"inference"`
	// AutoReconcile replays the queue into newly discovered LDX files whose
	// car can be inferred from their path.
	AutoReconcile bool `yaml:"autoReconcile"`
}

type Session struct {
	AutoGenerateLDX bool   `yaml:"autoGenerateLdx"`
	LDXOutputDir    string `yaml:"ldxOutputDir"`
	Overwrite       string `yaml:"overwrite"`
	HeaderWindow    int    `yaml:"headerWindow"`
}

type Patch struct {
	Verify              string `yaml:"verify"`
	RequireCatalogEntry bool   `yaml:"requireCatalogEntry"`
	AuditLog            string `yaml:"auditLog"`
}

type Server struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Config is the daemon and CLI configuration. It is loaded once and passed
// by value.
type Config struct {
	DataDir     string    `yaml:"dataDir"`
	StorePath   string    `yaml:"store"`
	CatalogPath string    `yaml:"catalog"`
	ChannelsDir string    `yaml:"channels"`
	Lang        string    `yaml:"lang"`
	Logs        Logs      `yaml:"logs"`
	Discovery   Discovery `yaml:"discovery"`
	Session     Session   `yaml:"session"`
	Patch       Patch     `yaml:"patch"`
	Server      Server    `yaml:"server"`
}

// Load reads path and fills defaults. Relative paths are resolved against
// the directory holding the config file when the target exists there.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	cfg.DataDir = resolvePath(cfg.DataDir)
	cfg.StorePath = resolvePath(cfg.StorePath)
	cfg.CatalogPath = resolvePath(cfg.CatalogPath)
	cfg.ChannelsDir = resolvePath(cfg.ChannelsDir)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.Discovery.NASBasePath = resolvePath(cfg.Discovery.NASBasePath)
	cfg.Discovery.LDScanDir = resolvePath(cfg.Discovery.LDScanDir)
	cfg.Session.LDXOutputDir = resolvePath(cfg.Session.LDXOutputDir)
	cfg.Patch.AuditLog = resolvePath(cfg.Patch.AuditLog)
	if err := cfg.fill(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	// fill only fails on values a zero config does not carry.
	_ = cfg.fill()
	return cfg
}

func (c *Config) fill() error {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(".", "data")
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, "ldxsync.db")
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.DataDir, "car_parameters.json")
	}
	if c.ChannelsDir == "" {
		c.ChannelsDir = filepath.Join(c.DataDir, "motec")
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.DataDir, "logs")
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Discovery.Interval <= 0 {
		c.Discovery.Interval = 30 * time.Second
	}
	if c.Discovery.MaxFilesPerScan <= 0 {
		c.Discovery.MaxFilesPerScan = 1000
	}
	switch c.Discovery.Inference {
	case "":
		c.Discovery.Inference = "conservative"
	case "conservative", "off":
	default:
		return fmt.Errorf("discovery.inference must be conservative or off, got %q", c.Discovery.Inference)
	}
	if c.Session.LDXOutputDir == "" {
		c.Session.LDXOutputDir = filepath.Join(c.DataDir, "motec", "ldx")
	}
	policy, err := session.ParseOverwritePolicy(c.Session.Overwrite)
	if err != nil {
		return err
	}
	c.Session.Overwrite = string(policy)
	verify, err := patch.ParseVerifyPolicy(c.Patch.Verify)
	if err != nil {
		return err
	}
	c.Patch.Verify = string(verify)
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	return nil
}

// DiscoveryConfig converts the discovery section for the scanner.
func (c Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		NASBasePath:     c.Discovery.NASBasePath,
		LDScanDir:       c.Discovery.LDScanDir,
		LDXOutputDir:    c.Session.LDXOutputDir,
		LDGlob:          c.Discovery.LDGlob,
		LDXGlob:         c.Discovery.LDXGlob,
		Interval:        c.Discovery.Interval,
		MaxFilesPerScan: c.Discovery.MaxFilesPerScan,
		Inference:       c.Discovery.Inference,
	}
}

// SessionConfig converts the session section for the linker.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		AutoGenerateLDX: c.Session.AutoGenerateLDX,
		LDXOutputDir:    c.Session.LDXOutputDir,
		Overwrite:       session.OverwritePolicy(c.Session.Overwrite),
		LDGlob:          c.Discovery.LDGlob,
		HeaderWindow:    c.Session.HeaderWindow,
	}
}
