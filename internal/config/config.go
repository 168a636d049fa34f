package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"schedsync/internal/fsutil"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

// ErrMissingCredentials is returned by Credentials when either portal secret
// is absent from the environment.
var ErrMissingCredentials = errors.New("config: portal credentials are not set")

// PortalConfig describes how to reach the student portal.
type PortalConfig struct {
	// URL is the portal landing page that offers the Azure login button.
	URL string `yaml:"url" json:"url"`

	// EmailEnv / PasswordEnv name the environment variables holding the
	// account secrets. Secrets are never stored in the config file.
	EmailEnv    string `yaml:"email_env" json:"email_env"`
	PasswordEnv string `yaml:"password_env" json:"password_env"`

	// ShowBrowser runs Chromium with a visible window instead of headless.
	ShowBrowser bool `yaml:"show_browser" json:"show_browser"`

	// TimeoutSec bounds the whole browser session.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`

	// DebugDir, when set, receives screenshots and the final page HTML.
	DebugDir string `yaml:"debug_dir" json:"debug_dir"`

	// SnapshotDir, when set, receives every week's schedule HTML so a run
	// can be replayed offline with `schedsync extract`.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir"`
}

// ExtractConfig holds the layout knowledge the extractor needs.
type ExtractConfig struct {
	// Layout is the ordered list of (left pixel, weekday) columns.
	Layout []model.DaySlot `yaml:"layout" json:"layout"`

	// HeaderTopMin / HeaderTopMax bound the `top:` offset of date header cells.
	HeaderTopMin int `yaml:"header_top_min" json:"header_top_min"`
	HeaderTopMax int `yaml:"header_top_max" json:"header_top_max"`

	// MaxDrift is the largest accepted distance in pixels between an element
	// and its nearest column. Zero selects the default; negative disables
	// the cap.
	MaxDrift int `yaml:"max_drift" json:"max_drift"`

	// RoomPrefix marks the tooltip line that carries the room.
	RoomPrefix string `yaml:"room_prefix" json:"room_prefix"`
}

// CalendarConfig controls the emitted calendar document.
type CalendarConfig struct {
	Output    string `yaml:"output" json:"output"`
	Name      string `yaml:"name" json:"name"`
	Timezone  string `yaml:"timezone" json:"timezone"`
	ProdID    string `yaml:"prodid" json:"prodid"`
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	// ReportPath, when set, receives a JSON report of each run.
	ReportPath string `yaml:"report_path" json:"report_path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for serve mode.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MaxWeeks is how many week views are collected, the first included.
	MaxWeeks int `yaml:"max_weeks" json:"max_weeks"`

	Portal   PortalConfig   `yaml:"portal" json:"portal"`
	Extract  ExtractConfig  `yaml:"extract" json:"extract"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// Listen is the HTTP listen address used by `schedsync serve`.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is the cron schedule for re-syncing in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, protects everything except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// MaxWeeksLimit caps how many week views a live sync walks.
const MaxWeeksLimit = 12

const (
	defaultPortalURL    = "https://student.szkolafilmowa.pl/palio/html.run?_Instance=cambridge"
	defaultEmailEnv     = "AZURE_EMAIL"
	defaultPasswordEnv  = "AZURE_PASSWORD"
	defaultTimeoutSec   = 300
	defaultMaxWeeks     = 12
	defaultHeaderTop    = -40
	defaultMaxDrift     = 65
	defaultRoomPrefix   = "Sala:"
	defaultOutput       = "plan_zajec.ics"
	defaultCalendarName = "Plan Zajęć - Szkoła Filmowa"
	defaultTimezone     = "Europe/Warsaw"
	defaultProdID       = "-//Plan Zajec Szkola Filmowa//PL"
	defaultUIDDomain    = "szkolafilmowa"
	defaultListen       = "127.0.0.1:8080"
	defaultRefreshCron  = "0 */6 * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled files still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxWeeks <= 0 {
		c.MaxWeeks = defaultMaxWeeks
	}
	if c.MaxWeeks > MaxWeeksLimit {
		appLog.Warn("max_weeks above limit, clamping", "max_weeks", c.MaxWeeks, "limit", MaxWeeksLimit)
		c.MaxWeeks = MaxWeeksLimit
	}

	if c.Portal.URL == "" {
		c.Portal.URL = defaultPortalURL
	}
	if c.Portal.EmailEnv == "" {
		c.Portal.EmailEnv = defaultEmailEnv
	}
	if c.Portal.PasswordEnv == "" {
		c.Portal.PasswordEnv = defaultPasswordEnv
	}
	if c.Portal.TimeoutSec <= 0 {
		c.Portal.TimeoutSec = defaultTimeoutSec
	}

	if len(c.Extract.Layout) == 0 {
		c.Extract.Layout = append([]model.DaySlot(nil), model.DefaultLayout...)
	}
	// Both zero means "unset"; a real header band is always negative.
	if c.Extract.HeaderTopMin == 0 && c.Extract.HeaderTopMax == 0 {
		c.Extract.HeaderTopMin = defaultHeaderTop
		c.Extract.HeaderTopMax = defaultHeaderTop
	}
	if c.Extract.HeaderTopMin > c.Extract.HeaderTopMax {
		c.Extract.HeaderTopMin, c.Extract.HeaderTopMax = c.Extract.HeaderTopMax, c.Extract.HeaderTopMin
	}
	if c.Extract.MaxDrift == 0 {
		c.Extract.MaxDrift = defaultMaxDrift
	}
	if c.Extract.RoomPrefix == "" {
		c.Extract.RoomPrefix = defaultRoomPrefix
	}

	if c.Calendar.Output == "" {
		c.Calendar.Output = defaultOutput
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = defaultCalendarName
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = defaultTimezone
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		appLog.Warn("unknown calendar timezone, using default",
			"timezone", c.Calendar.Timezone,
			"default", defaultTimezone,
			"err", err,
		)
		c.Calendar.Timezone = defaultTimezone
	}
	if c.Calendar.ProdID == "" {
		c.Calendar.ProdID = defaultProdID
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = defaultUIDDomain
	}

	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
}

// Credentials are the portal account secrets.
type Credentials struct {
	Email    string
	Password string
}

// Credentials reads the portal secrets through lookup (os.LookupEnv in
// production). It returns ErrMissingCredentials if either is empty; the
// partially filled value is still returned so callers can log what is known.
func (c *Config) Credentials(lookup func(string) (string, bool)) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	email, _ := lookup(c.Portal.EmailEnv)
	password, _ := lookup(c.Portal.PasswordEnv)
	creds := Credentials{
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if creds.Email == "" || creds.Password == "" {
		return creds, fmt.Errorf("%w (%s, %s)", ErrMissingCredentials, c.Portal.EmailEnv, c.Portal.PasswordEnv)
	}
	return creds, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If path is empty, defaults are returned and nothing is written.
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
