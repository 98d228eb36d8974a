package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"example.com/ldxsync/internal/channels"
	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/ldfile"
	"example.com/ldxsync/internal/ldx"
)

// OverwritePolicy decides whether a generated LDX may replace an existing
// file.
type OverwritePolicy string

const (
	OverwriteAlways OverwritePolicy = "always"
	OverwriteNever  OverwritePolicy = "never"
	// OverwriteIfSafe behaves like OverwriteAlways. Callers that need a
	// confirmation step must add it themselves.
	OverwriteIfSafe OverwritePolicy = "ifSafe"
)

func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", strings.ToLower(string(OverwriteIfSafe)):
		return OverwriteIfSafe, nil
	case string(OverwriteAlways):
		return OverwriteAlways, nil
	case string(OverwriteNever):
		return OverwriteNever, nil
	}
	return "", fmt.Errorf("unknown overwrite policy %q", s)
}

// ErrExists is returned when a generated LDX would replace a file under the
// never policy.
var ErrExists = errors.New("ldx file already exists")

const DefaultCarID = "default"

type Config struct {
	AutoGenerateLDX bool
	LDXOutputDir    string
	Overwrite       OverwritePolicy
	LDGlob          string
	HeaderWindow    int
}

// SessionConfig ties an LD file to a car and session.
type SessionConfig struct {
	CarID       string                   `json:"carId"`
	TrackID     string                   `json:"trackId,omitempty"`
	Driver      string                   `json:"driver,omitempty"`
	Date        string                   `json:"date,omitempty"`
	LDFilePath  string                   `json:"ldFilePath,omitempty"`
	LDXFilePath string                   `json:"ldxFilePath,omitempty"`
	Channels    []channels.ChannelConfig `json:"channels"`
	SessionName string                   `json:"sessionName,omitempty"`
}

type LinkRequest struct {
	LDPath    string
	CarID     string
	SessionID string
	TrackID   string
	Driver    string
	Date      string
}

// Mappings supplies the channel mappings for a car.
type Mappings interface {
	Mappings(car string) []channels.ChannelConfig
}

type Linker struct {
	cfg      Config
	mappings Mappings
	codec    *ldx.Codec
	reader   *ldfile.Reader
	now      func() time.Time
}

func NewLinker(cfg Config, mappings Mappings, codec *ldx.Codec) *Linker {
	if cfg.Overwrite == "" {
		cfg.Overwrite = OverwriteIfSafe
	}
	if cfg.LDGlob == "" {
		cfg.LDGlob = "*.ld"
	}
	if codec == nil {
		codec = ldx.DefaultCodec()
	}
	return &Linker{
		cfg:      cfg,
		mappings: mappings,
		codec:    codec,
		reader:   ldfile.NewReader(cfg.HeaderWindow),
		now:      time.Now,
	}
}

// Link validates the LD file and builds its session. Fields missing from
// req come from the file header, then the current date.
func (l *Linker) Link(req LinkRequest) (SessionConfig, error) {
	md := l.reader.Read(req.LDPath)
	if !md.Valid || md.FileSize < ldfile.MinFileSize {
		return SessionConfig{}, ldx.ValidationError("invalid LD file %s: %s", req.LDPath, md.Error)
	}
	car := req.CarID
	if car == "" {
		car = DefaultCarID
	}
	sc := SessionConfig{
		CarID:       car,
		TrackID:     firstNonEmpty(req.TrackID, md.TrackName),
		Driver:      firstNonEmpty(req.Driver, md.DriverName),
		Date:        firstNonEmpty(req.Date, md.ISODate(), l.now().Format("2006-01-02")),
		LDFilePath:  req.LDPath,
		SessionName: firstNonEmpty(req.SessionID, discovery.InferSession(filepath.Base(req.LDPath))),
	}
	if l.mappings != nil {
		sc.Channels = l.mappings.Mappings(car)
	}
	if l.cfg.AutoGenerateLDX {
		path, err := l.generate(sc)
		if err != nil {
			return SessionConfig{}, err
		}
		sc.LDXFilePath = path
	}
	return sc, nil
}

// generate writes a companion LDX for sc and returns its path.
func (l *Linker) generate(sc SessionConfig) (string, error) {
	dir := l.cfg.LDXOutputDir
	if dir == "" {
		dir = filepath.Join("data", "motec", "ldx")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ldx.IOError("create %s: %w", dir, err)
	}
	session := firstNonEmpty(sc.SessionName, "session")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.ldx", sc.CarID, sc.Date, session))
	if common.FileExists(path) {
		if l.cfg.Overwrite == OverwriteNever {
			return "", fmt.Errorf("%w: %s (overwrite policy is never)", ErrExists, path)
		}
		common.Logf("session: overwriting %s (policy %s)", path, l.cfg.Overwrite)
	}

	doc := ldx.New(sc.CarID + "_Workspace")
	doc.ProjectName = sc.CarID + "_Project"
	doc.CarName = sc.CarID
	created := l.now().UTC()
	doc.Created = &created
	for _, m := range sc.Channels {
		if m.Enabled && m.VendorName != "" {
			doc.Channels = append(doc.Channels, m.Channel())
		}
	}
	doc.SetDetail("Track", sc.TrackID)
	doc.SetDetail("Driver", sc.Driver)
	doc.SetDetail("Date", sc.Date)
	doc.SetDetail("Session", sc.SessionName)

	data, err := l.codec.Encode(doc)
	if err != nil {
		return "", err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", ldx.IOError("write %s: %w", path, err)
	}
	common.Logf("session: generated %s with %d channels", path, len(doc.Channels))
	return path, nil
}

// DiscoverAndLink links every LD file in dir. Files that fail are logged
// and skipped. An empty carID is inferred from the path, then defaults.
func (l *Linker) DiscoverAndLink(dir, carID string) ([]SessionConfig, error) {
	files, err := discovery.ListLD(dir, l.cfg.LDGlob)
	if err != nil {
		return nil, ldx.IOError("list %s: %w", dir, err)
	}
	var sessions []SessionConfig
	for _, path := range files {
		car := firstNonEmpty(carID, discovery.InferCar(path), DefaultCarID)
		sc, err := l.Link(LinkRequest{LDPath: path, CarID: car})
		if err != nil {
			common.Logf("session: skipping %s: %v", path, err)
			continue
		}
		sessions = append(sessions, sc)
	}
	return sessions, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
