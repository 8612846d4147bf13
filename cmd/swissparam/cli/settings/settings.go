// Package settings provides configuration loading for the swissparam CLI.
//
// Settings are layered: built-in defaults, then .swissparam/settings.json,
// then .swissparam/settings.local.json, then SWISSPARAM_* environment
// variables (a .env file in the working directory is read as well). Command
// line flags are applied on top by the cli package.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/swissparam/cli/cmd/swissparam/cli/jsonutil"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
)

const (
	// DirName is the per-project configuration directory.
	DirName = ".swissparam"
	// FileName is the shared settings file inside DirName.
	FileName = "settings.json"
	// LocalFileName overrides FileName and is meant to stay out of version control.
	LocalFileName = "settings.local.json"
	// EnvFileName is read from the working directory when present.
	EnvFileName = ".env"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SWISSPARAM_"
)

// Defaults.
const (
	DefaultBaseURL         = "http://swissparam.ch:5678"
	DefaultResultFilename  = "results.tar.gz"
	DefaultPollInterval    = 5 * time.Second
	DefaultPollTimeout     = 2 * time.Hour
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultNetworkRetries  = 3
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Settings is the merged configuration.
type Settings struct {
	// BaseURL is the root of the SwissParam service.
	BaseURL string `json:"base_url,omitempty"`

	// ResultFilename is where `run` writes the archive when -o is not given.
	ResultFilename string `json:"result_filename,omitempty"`

	PollInterval    Duration `json:"poll_interval,omitempty"`
	PollTimeout     Duration `json:"poll_timeout,omitempty"`
	RequestTimeout  Duration `json:"request_timeout,omitempty"`
	DownloadTimeout Duration `json:"download_timeout,omitempty"`

	// NetworkRetries is how many consecutive failed status checks are tolerated.
	NetworkRetries int `json:"network_retries"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// Telemetry enables anonymous usage events. Off unless set to true.
	Telemetry bool `json:"telemetry"`
}

// Duration is a time.Duration written as a Go duration string ("5s", "2h").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		BaseURL:         DefaultBaseURL,
		ResultFilename:  DefaultResultFilename,
		PollInterval:    Duration(DefaultPollInterval),
		PollTimeout:     Duration(DefaultPollTimeout),
		RequestTimeout:  Duration(DefaultRequestTimeout),
		DownloadTimeout: Duration(DefaultDownloadTimeout),
		NetworkRetries:  DefaultNetworkRetries,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// Load reads settings relative to the current working directory.
func Load(ctx context.Context) (*Settings, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return LoadFrom(ctx, wd)
}

// LoadFrom reads settings relative to dir, applying environment overrides
// from the process and from dir/.env. Process variables win over .env.
func LoadFrom(ctx context.Context, dir string) (*Settings, error) {
	s := Default()

	for _, name := range []string{FileName, LocalFileName} {
		path := filepath.Join(dir, DirName, name)
		found, err := mergeFile(s, path)
		if err != nil {
			return nil, err
		}
		if found {
			logging.Debug(logging.WithComponent(ctx, "settings"), "loaded settings file",
				"path", path)
		}
	}

	dotenv, err := readDotEnv(filepath.Join(dir, EnvFileName))
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := s.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// mergeFile overlays the keys present in path onto s. A missing file is not
// an error. Unknown keys are rejected.
func mergeFile(s *Settings, path string) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a fixed directory layout
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return vars, nil
}

// ApplyEnv overrides fields from SWISSPARAM_* variables returned by lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"BASE_URL":        &s.BaseURL,
		"RESULT_FILENAME": &s.ResultFilename,
		"LOG_LEVEL":       &s.LogLevel,
		"LOG_FORMAT":      &s.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"POLL_INTERVAL":    &s.PollInterval,
		"POLL_TIMEOUT":     &s.PollTimeout,
		"REQUEST_TIMEOUT":  &s.RequestTimeout,
		"DOWNLOAD_TIMEOUT": &s.DownloadTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = Duration(d)
	}

	if v, ok := lookup(EnvPrefix + "NETWORK_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sNETWORK_RETRIES: %w", EnvPrefix, err)
		}
		s.NetworkRetries = n
	}
	if v, ok := lookup(EnvPrefix + "TELEMETRY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sTELEMETRY: %w", EnvPrefix, err)
		}
		s.Telemetry = b
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an http(s) URL", s.BaseURL)
	}
	if strings.TrimSpace(s.ResultFilename) == "" {
		return errors.New("result_filename must not be empty")
	}
	for name, d := range map[string]Duration{
		"poll_interval":    s.PollInterval,
		"poll_timeout":     s.PollTimeout,
		"request_timeout":  s.RequestTimeout,
		"download_timeout": s.DownloadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Std())
		}
	}
	if s.PollInterval > s.PollTimeout {
		return fmt.Errorf("poll_interval (%s) exceeds poll_timeout (%s)", s.PollInterval.Std(), s.PollTimeout.Std())
	}
	if s.NetworkRetries < 0 {
		return fmt.Errorf("network_retries must not be negative, got %d", s.NetworkRetries)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", s.LogFormat)
	}
	return nil
}

// LocalPath returns the local settings file of dir.
func LocalPath(dir string) string {
	return filepath.Join(dir, DirName, LocalFileName)
}

// UpdateLocal sets one key in dir's local settings file, keeping the
// other keys in that file as they are. The result must still parse.
func UpdateLocal(_ context.Context, dir, key string, value any) error {
	path := LocalPath(dir)

	doc := map[string]any{}
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a fixed directory layout
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading %s: %w", path, err)
	}
	doc[key] = value

	out, err := jsonutil.MarshalIndentWithNewline(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.DisallowUnknownFields()
	if err := dec.Decode(Default()); err != nil {
		return fmt.Errorf("invalid setting %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	//nolint:gosec // settings file is config, 0o644 is appropriate
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
