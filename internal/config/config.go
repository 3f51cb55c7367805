// Package config loads the daemon's configuration from an ini file,
// overridable key by key from the environment, the same precedence the
// original Python tool used (environment first, file second, fallback
// last).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"gopkg.in/yaml.v3"

	"github.com/omniscan/mediasync/internal/errs"
)

// ServerType identifies which media-indexing backend to talk to.
type ServerType string

const (
	ServerPlex     ServerType = "plex"
	ServerJellyfin ServerType = "jellyfin"
	ServerEmby     ServerType = "emby"
)

// Config is a snapshot of everything the engine and its collaborators
// need, loaded once per run by Load. There is no reload path.
type Config struct {
	Path string

	ServerType ServerType
	PlexURL    string
	PlexToken  string
	ServerURL  string
	APIKey     string

	ScanDirectories []string
	MediaExtensions map[string]bool
	IgnorePatterns  []string

	ScanWorkers  int
	ScanDebounce time.Duration
	ScanDelay    time.Duration
	Watch        bool
	UsePolling   bool
	RunInterval  time.Duration
	StartTime    string
	RunOnStartup bool

	IncrementalScan bool
	ScanSinceDays   int

	HealthCheck   bool
	SymlinkCheck  bool
	IgnoreSamples bool
	MinDuration   time.Duration
	ScanTimeout   time.Duration

	DeletionThreshold   int
	AbortOnMassDeletion bool
	DryRun              bool

	NotificationsEnabled bool
	DiscordWebhookURL    string

	WebUsername string
	WebPassword string
	WebBind     string

	StuckDBPath string

	LibraryOverridesPath string
	LibraryOverrides     []LibraryOverride
}

// LibraryOverride pins a library section's roots statically, bypassing a
// live ListSections call. Useful for offline/dev use against a media
// server the daemon cannot currently reach.
type LibraryOverride struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title"`
	Kind  string   `yaml:"kind"`
	Roots []string `yaml:"roots"`
}

type librariesFile struct {
	Libraries []LibraryOverride `yaml:"libraries"`
}

// loadLibraryOverrides reads an optional libraries.yaml sidecar. A
// missing file is not an error; malformed YAML is.
func loadLibraryOverrides(path string) ([]LibraryOverride, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", errs.ErrConfig, path, err)
	}
	var parsed librariesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errs.ErrConfig, path, err)
	}
	return parsed.Libraries, nil
}

var defaultMediaExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpg", ".mpeg", ".ts",
}

func getEnv(envKey string, fallback string) (string, bool) {
	if v, ok := os.LookupEnv(envKey); ok && v != "" {
		return v, true
	}
	return fallback, false
}

func str(sec *ini.Section, envKey, key, fallback string) string {
	if v, ok := getEnv(envKey, ""); ok {
		return v
	}
	if sec != nil {
		if k, err := sec.GetKey(key); err == nil {
			return k.String()
		}
	}
	return fallback
}

func boolean(sec *ini.Section, envKey, key string, fallback bool) bool {
	if v, ok := getEnv(envKey, ""); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b
		}
	}
	if sec != nil {
		if k, err := sec.GetKey(key); err == nil {
			if b, err := k.Bool(); err == nil {
				return b
			}
		}
	}
	return fallback
}

func integer(sec *ini.Section, envKey, key string, fallback int) int {
	if v, ok := getEnv(envKey, ""); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	if sec != nil {
		if k, err := sec.GetKey(key); err == nil {
			if n, err := k.Int(); err == nil {
				return n
			}
		}
	}
	return fallback
}

func float(sec *ini.Section, envKey, key string, fallback float64) float64 {
	if v, ok := getEnv(envKey, ""); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	if sec != nil {
		if k, err := sec.GetKey(key); err == nil {
			if f, err := k.Float64(); err == nil {
				return f
			}
		}
	}
	return fallback
}

func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		for _, field := range strings.Split(line, ",") {
			field = strings.TrimSpace(field)
			if field != "" {
				parts = append(parts, field)
			}
		}
	}
	return parts
}

// Load reads path (creating no file if absent — a missing ini file is not
// fatal by itself, since every key may come from the environment) and
// returns a validated snapshot.
func Load(path string) (*Config, error) {
	var file *ini.File
	var err error
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			file, err = ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", errs.ErrConfig, path, err)
			}
		}
	}
	if file == nil {
		file = ini.Empty()
	}

	section := func(name string) *ini.Section {
		if file.HasSection(name) {
			sec, _ := file.GetSection(name)
			return sec
		}
		return nil
	}

	server := section("server")
	plex := section("plex")
	scan := section("scan")
	behaviour := section("behaviour")
	ignore := section("ignore")
	notifications := section("notifications")
	web := section("web")

	cfg := &Config{
		Path:       path,
		ServerType: ServerType(strings.ToLower(str(server, "SERVER_TYPE", "type", "plex"))),
		PlexURL:    str(plex, "PLEX_URL", "server", ""),
		PlexToken:  str(plex, "TOKEN", "token", ""),
		ServerURL:  str(server, "SERVER_URL", "url", ""),
		APIKey:     str(server, "API_KEY", "api_key", ""),

		ScanDirectories: splitList(str(scan, "SCAN_PATHS", "directories", "")),
		IgnorePatterns:  splitList(str(ignore, "IGNORE_PATTERNS", "patterns", "")),

		ScanWorkers:  integer(behaviour, "SCAN_WORKERS", "scan_workers", 4),
		ScanDebounce: time.Duration(integer(behaviour, "SCAN_DEBOUNCE", "scan_debounce", 10)) * time.Second,
		ScanDelay:    time.Duration(float(behaviour, "SCAN_DELAY", "scan_delay", 0) * float64(time.Second)),
		Watch:        boolean(behaviour, "WATCH", "watch", false),
		UsePolling:   boolean(behaviour, "USE_POLLING", "use_polling", false),
		RunInterval:  time.Duration(integer(behaviour, "RUN_INTERVAL", "run_interval", 24)) * time.Hour,
		StartTime:    str(behaviour, "START_TIME", "start_time", ""),
		RunOnStartup: boolean(behaviour, "RUN_ON_STARTUP", "run_on_startup", true),

		IncrementalScan: boolean(behaviour, "INCREMENTAL_SCAN", "incremental_scan", false),
		ScanSinceDays:   integer(behaviour, "SCAN_SINCE_DAYS", "scan_since_days", 7),

		HealthCheck:   boolean(behaviour, "HEALTH_CHECK", "health_check", false),
		SymlinkCheck:  boolean(behaviour, "SYMLINK_CHECK", "symlink_check", false),
		IgnoreSamples: boolean(behaviour, "IGNORE_SAMPLES", "ignore_samples", false),
		MinDuration:   time.Duration(integer(behaviour, "MIN_DURATION", "min_duration", 180)) * time.Second,
		ScanTimeout:   time.Duration(integer(behaviour, "SCAN_TIMEOUT", "scan_timeout", 60)) * time.Second,

		DeletionThreshold:   integer(behaviour, "DELETION_THRESHOLD", "deletion_threshold", 50),
		AbortOnMassDeletion: boolean(behaviour, "ABORT_ON_MASS_DELETION", "abort_on_mass_deletion", true),
		DryRun:              boolean(behaviour, "DRY_RUN", "dry_run", false),

		NotificationsEnabled: boolean(notifications, "NOTIFICATIONS_ENABLED", "enabled", false),
		DiscordWebhookURL:    str(notifications, "DISCORD_WEBHOOK_URL", "discord_webhook_url", ""),

		WebUsername: str(web, "WEB_USERNAME", "username", "admin"),
		WebPassword: str(web, "WEB_PASSWORD", "password", ""),
		WebBind:     str(web, "WEB_BIND", "bind", ":8420"),

		StuckDBPath: str(behaviour, "STUCK_DB_PATH", "stuck_db_path", "mediasync.db"),

		LibraryOverridesPath: str(scan, "LIBRARIES_YAML", "libraries_yaml", ""),
	}

	cfg.MediaExtensions = make(map[string]bool, len(defaultMediaExtensions))
	for _, ext := range defaultMediaExtensions {
		cfg.MediaExtensions[ext] = true
	}

	overrides, err := loadLibraryOverrides(cfg.LibraryOverridesPath)
	if err != nil {
		return nil, err
	}
	cfg.LibraryOverrides = overrides

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.ScanDirectories) == 0 {
		return fmt.Errorf("%w: no scan directories configured", errs.ErrConfig)
	}
	switch c.ServerType {
	case ServerPlex:
		if c.PlexURL == "" || c.PlexToken == "" {
			return fmt.Errorf("%w: plex server requires plex.server and plex.token", errs.ErrConfig)
		}
	case ServerJellyfin, ServerEmby:
		if c.ServerURL == "" || c.APIKey == "" {
			return fmt.Errorf("%w: %s server requires server.url and server.api_key", errs.ErrConfig, c.ServerType)
		}
	default:
		return fmt.Errorf("%w: unknown server type %q", errs.ErrConfig, c.ServerType)
	}
	return nil
}

// PersistWebPassword writes a generated web dashboard password back into
// the ini file on disk, mirroring the original tool's one-time
// password-generation-and-save behavior. A no-op when Path is empty.
func (c *Config) PersistWebPassword(password string) error {
	c.WebPassword = password
	if c.Path == "" {
		return nil
	}
	var file *ini.File
	var err error
	if _, statErr := os.Stat(c.Path); statErr == nil {
		file, err = ini.Load(c.Path)
		if err != nil {
			return err
		}
	} else {
		file = ini.Empty()
		if dir := filepath.Dir(c.Path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return mkErr
			}
		}
	}
	file.Section("web").Key("password").SetValue(password)
	return file.SaveTo(c.Path)
}
