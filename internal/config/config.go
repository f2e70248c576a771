package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	exporterrors "github.com/hpungsan/bereel/internal/errors"
)

// FileName is the per-directory config file discovered by FindRepoConfig.
const FileName = ".bereel.yaml"

// Collection names accepted in DisabledCollections.
const (
	CollectionPosts         = "posts"
	CollectionMemories      = "memories"
	CollectionRealmojis     = "realmojis"
	CollectionConversations = "conversations"
)

// KnownCollections lists every collection an export can contain.
var KnownCollections = []string{CollectionMemories, CollectionPosts, CollectionRealmojis, CollectionConversations}

// Config holds application configuration.
type Config struct {
	// InputPath is the folder that contains the unpacked BeReal export folder.
	InputPath string `yaml:"input_path" validate:"required"`

	// OutputPath is the root of the generated archive.
	OutputPath string `yaml:"out_path" validate:"required"`

	// MaxWorkers bounds the number of records processed in parallel.
	MaxWorkers int `yaml:"max_workers" validate:"min=1,max=64"`

	// DefaultTimezone is applied when a record has no GPS fix or the fix
	// matches no timezone polygon.
	DefaultTimezone string `yaml:"default_timezone" validate:"required,timezone"`

	// ExiftoolPath overrides the exiftool executable looked up on $PATH.
	ExiftoolPath string `yaml:"exiftool_path,omitempty"`

	// NoMetadata skips embedded metadata writes; files only get their mtime set.
	NoMetadata bool `yaml:"no_metadata,omitempty"`

	// Timespan limits the export to "DD.MM.YYYY-DD.MM.YYYY" (either side may be "*").
	// Takes precedence over Year.
	Timespan string `yaml:"timespan,omitempty"`

	// Year limits the export to a single calendar year.
	Year int `yaml:"year,omitempty" validate:"omitempty,min=1970,max=9999"`

	// DisabledCollections excludes collections from the export.
	DisabledCollections []string `yaml:"disabled_collections,omitempty" validate:"dive,oneof=posts memories realmojis conversations"`

	// Interactive asks a human to pick the selfie for conversation image pairs.
	Interactive bool `yaml:"interactive,omitempty"`

	// WebUI delivers interactive prompts through a local web page instead of the terminal.
	WebUI bool `yaml:"web_ui,omitempty"`

	// WebAddr is the bind address of the web picker.
	WebAddr string `yaml:"web_addr,omitempty" validate:"omitempty,hostname_port"`

	// MetricsTextfile, when set, receives a Prometheus text dump at the end of the run.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		InputPath:       "./input",
		OutputPath:      "./output",
		MaxWorkers:      4,
		DefaultTimezone: "America/New_York",
		WebAddr:         "127.0.0.1:8765",
	}
}

// Enabled reports whether a collection takes part in the export.
func (c *Config) Enabled(collection string) bool {
	for _, d := range c.DisabledCollections {
		if d == collection {
			return false
		}
	}
	return true
}

// Load loads configuration from the given YAML file.
// Returns default config if path is empty or the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := loadFileRaw(path)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo loads the nearest .bereel.yaml found walking upward from startDir.
// Missing files yield the defaults.
func LoadWithRepo(startDir string) (*Config, error) {
	return Load(FindRepoConfig(startDir))
}

// FindRepoConfig walks upward from startDir to find the nearest .bereel.yaml.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.InputPath = firstNonEmpty(overlay.InputPath, base.InputPath)
	result.OutputPath = firstNonEmpty(overlay.OutputPath, base.OutputPath)
	result.DefaultTimezone = firstNonEmpty(overlay.DefaultTimezone, base.DefaultTimezone)
	result.ExiftoolPath = firstNonEmpty(overlay.ExiftoolPath, base.ExiftoolPath)
	result.Timespan = firstNonEmpty(overlay.Timespan, base.Timespan)
	result.WebAddr = firstNonEmpty(overlay.WebAddr, base.WebAddr)
	result.MetricsTextfile = firstNonEmpty(overlay.MetricsTextfile, base.MetricsTextfile)

	result.MaxWorkers = overlay.MaxWorkers
	if result.MaxWorkers == 0 {
		result.MaxWorkers = base.MaxWorkers
	}

	result.Year = overlay.Year
	if result.Year == 0 {
		result.Year = base.Year
	}

	// Booleans: overlay wins if true, else base
	result.NoMetadata = base.NoMetadata || overlay.NoMetadata
	result.Interactive = base.Interactive || overlay.Interactive
	result.WebUI = base.WebUI || overlay.WebUI
	result.Verbose = base.Verbose || overlay.Verbose

	result.DisabledCollections = mergeStringSlice(base.DisabledCollections, overlay.DisabledCollections)

	return result
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

var validate = validator.New()

// Validate checks field constraints and returns an INVALID_REQUEST error
// listing every violation.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return exporterrors.NewInvalidRequest(strings.Join(msgs, "; "))
		}
		return exporterrors.NewInvalidRequest(err.Error())
	}
	if cfg.WebUI && !cfg.Interactive {
		return exporterrors.NewInvalidRequest("web_ui requires interactive")
	}
	if cfg.Timespan != "" {
		if _, err := ParseTimespan(cfg.Timespan); err != nil {
			return err
		}
	}
	return nil
}

// formatFieldError formats a single field validation error.
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "timezone":
		return fmt.Sprintf("%s must be an IANA timezone name", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
