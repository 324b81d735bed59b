// Package config builds the simulator's configuration: defaults, then a
// YAML file, then MODALITYSIM_* environment variables. Command-line flags
// are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is built once at startup and passed by value.
type Config struct {
	Host           string
	Port           int
	CallingAETitle string
	CalledAETitle  string

	TemplateDir                 string
	Institution                 string
	PropagateReferringPhysician bool
	Worklist                    WorklistFilter

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxPDULength   uint32

	Log         LogConfig
	MetricsAddr string // empty disables the /metrics endpoint
}

// WorklistFilter narrows the worklist query. Empty fields match everything.
type WorklistFilter struct {
	Modality       string
	StationAETitle string
	ScheduledDate  string // YYYYMMDD or a DICOM date range
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string
	Format string // text or json
	File   string // rotated with lumberjack when set
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           4242,
		CallingAETitle: "FINDSCU",
		CalledAETitle:  "ORTHANC",
		TemplateDir:    "dummy",
		Institution:    "RS SIMULASI",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxPDULength:   16384,
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Address returns host:port of the peer.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if err := validateAETitle("calling AE title", c.CallingAETitle); err != nil {
		errs = append(errs, err)
	}
	if err := validateAETitle("called AE title", c.CalledAETitle); err != nil {
		errs = append(errs, err)
	}
	if c.MaxPDULength != 0 && c.MaxPDULength < 4096 {
		errs = append(errs, fmt.Errorf("max PDU length %d below 4096", c.MaxPDULength))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func validateAETitle(name, title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(trimmed) > 16 {
		return fmt.Errorf("%s %q longer than 16 characters", name, trimmed)
	}
	if strings.ContainsAny(trimmed, `\`) {
		return fmt.Errorf("%s %q contains a backslash", name, trimmed)
	}
	return nil
}

// File mirrors the YAML layout. Pointer fields distinguish "absent" from
// an explicit zero value.
type File struct {
	Peer struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		CallingAETitle string `yaml:"callingAETitle"`
		CalledAETitle  string `yaml:"calledAETitle"`
		MaxPDULength   uint32 `yaml:"maxPDULength"`
	} `yaml:"peer"`
	Timeouts struct {
		Connect time.Duration `yaml:"connect"`
		Read    time.Duration `yaml:"read"`
		Write   time.Duration `yaml:"write"`
	} `yaml:"timeouts"`
	Simulator struct {
		TemplateDir                 string `yaml:"templateDir"`
		Institution                 string `yaml:"institution"`
		PropagateReferringPhysician *bool  `yaml:"propagateReferringPhysician"`
	} `yaml:"simulator"`
	Worklist struct {
		Modality       *string `yaml:"modality"`
		StationAETitle *string `yaml:"stationAETitle"`
		ScheduledDate  *string `yaml:"scheduledDate"`
	} `yaml:"worklist"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	Metrics struct {
		Addr *string `yaml:"addr"`
	} `yaml:"metrics"`
}

// DefaultPaths are tried in order when no config path is given.
var DefaultPaths = []string{
	"modalitysim.yaml",
	"configs/modalitysim.yaml",
}

// LoadFromPath builds a Config from defaults, the YAML file and the
// environment. An explicit path must exist; the default paths are optional.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		parsed, err := readFile(configPath)
		if err != nil {
			return cfg, err
		}
		Merge(&cfg, parsed)
	} else {
		for _, path := range DefaultPaths {
			parsed, err := readFile(path)
			if err != nil {
				continue
			}
			Merge(&cfg, parsed)
			break
		}
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

func readFile(path string) (File, error) {
	var parsed File
	data, err := os.ReadFile(path)
	if err != nil {
		return parsed, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return parsed, fmt.Errorf("parse config %s: %w", path, err)
	}
	return parsed, nil
}

// Merge copies the fields set in src over dst.
func Merge(dst *Config, src File) {
	if src.Peer.Host != "" {
		dst.Host = src.Peer.Host
	}
	if src.Peer.Port != 0 {
		dst.Port = src.Peer.Port
	}
	if src.Peer.CallingAETitle != "" {
		dst.CallingAETitle = src.Peer.CallingAETitle
	}
	if src.Peer.CalledAETitle != "" {
		dst.CalledAETitle = src.Peer.CalledAETitle
	}
	if src.Peer.MaxPDULength != 0 {
		dst.MaxPDULength = src.Peer.MaxPDULength
	}
	if src.Timeouts.Connect != 0 {
		dst.ConnectTimeout = src.Timeouts.Connect
	}
	if src.Timeouts.Read != 0 {
		dst.ReadTimeout = src.Timeouts.Read
	}
	if src.Timeouts.Write != 0 {
		dst.WriteTimeout = src.Timeouts.Write
	}
	if src.Simulator.TemplateDir != "" {
		dst.TemplateDir = src.Simulator.TemplateDir
	}
	if src.Simulator.Institution != "" {
		dst.Institution = src.Simulator.Institution
	}
	if src.Simulator.PropagateReferringPhysician != nil {
		dst.PropagateReferringPhysician = *src.Simulator.PropagateReferringPhysician
	}
	if src.Worklist.Modality != nil {
		dst.Worklist.Modality = *src.Worklist.Modality
	}
	if src.Worklist.StationAETitle != nil {
		dst.Worklist.StationAETitle = *src.Worklist.StationAETitle
	}
	if src.Worklist.ScheduledDate != nil {
		dst.Worklist.ScheduledDate = *src.Worklist.ScheduledDate
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Log.File != "" {
		dst.Log.File = src.Log.File
	}
	if src.Metrics.Addr != nil {
		dst.MetricsAddr = *src.Metrics.Addr
	}
}

const envPrefix = "MODALITYSIM_"

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// ApplyEnvOverrides applies MODALITYSIM_* variables. Unparseable numbers
// and booleans are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v := env("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := env("CALLING_AE"); v != "" {
		cfg.CallingAETitle = v
	}
	if v := env("CALLED_AE"); v != "" {
		cfg.CalledAETitle = v
	}
	if v := env("TEMPLATE_DIR"); v != "" {
		cfg.TemplateDir = v
	}
	if v := env("INSTITUTION"); v != "" {
		cfg.Institution = v
	}
	if v := env("REFERRING_PHYSICIAN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PropagateReferringPhysician = b
		}
	}
	if v := env("MODALITY"); v != "" {
		cfg.Worklist.Modality = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := env("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := env("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
