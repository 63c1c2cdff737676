package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// Default values for settings outside the monitor itself.
const (
	DefaultGroupName = "default"
	DefaultTheme     = "default"
	DefaultLogFormat = "text"
	LocalConfigName  = ".ratewatch.yaml"
)

// ErrInvalidValue is returned when a flag, variable or file value cannot be
// parsed.
var ErrInvalidValue = errors.New("invalid configuration value")

// GroupRule assigns packages to a named grouping with its own retry limit.
// Match is a package path prefix, or a path.Match pattern when it contains
// glob characters. An empty Match or "*" matches every package.
type GroupRule struct {
	Name    string `yaml:"name"`
	Match   string `yaml:"match"`
	Retries int    `yaml:"retries"`
}

// matches reports whether pkg belongs to the rule.
func (g GroupRule) matches(pkg string) bool {
	switch {
	case g.Match == "" || g.Match == "*":
		return true
	case strings.ContainsAny(g.Match, "*?["):
		ok, err := path.Match(g.Match, pkg)
		return err == nil && ok
	default:
		return pkg == g.Match || strings.HasPrefix(pkg, strings.TrimSuffix(g.Match, "/")+"/")
	}
}

// File is the layout of .ratewatch.yaml.
type File struct {
	ratemonitor.Options `yaml:",inline"`

	Retries     *int        `yaml:"retries,omitempty"`
	Groups      []GroupRule `yaml:"groups,omitempty"`
	Subtests    *bool       `yaml:"subtests,omitempty"`
	Theme       string      `yaml:"theme,omitempty"`
	LogFormat   string      `yaml:"log_format,omitempty"`
	MetricsFile string      `yaml:"metrics_file,omitempty"`
	Debug       bool        `yaml:"debug,omitempty"`
}

// ParseFile decodes a config file body.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return &f, nil
}

// LoadFile reads the config file. An explicit path must exist; without one the
// local file and then the user config directory are tried, and a missing file
// yields an empty File. The returned path is "" when no file was read.
func LoadFile(explicit string) (*File, string, error) {
	p := explicit
	if p == "" {
		p = findConfigPath()
	}
	if p == "" {
		return &File{}, "", nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if explicit == "" && errors.Is(err, os.ErrNotExist) {
			return &File{}, "", nil
		}
		return nil, "", fmt.Errorf("reading config file %s: %w", p, err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing config file %s: %w", p, err)
	}
	return f, p, nil
}

// findConfigPath looks for the local config file first, then
// <UserConfigDir>/ratewatch/config.yaml.
func findConfigPath() string {
	if _, err := os.Stat(LocalConfigName); err == nil {
		return LocalConfigName
	}

	configHome, err := os.UserConfigDir()
	// An empty or root config dir is not usable for a per-user path.
	if err != nil || configHome == "" || configHome == "/" {
		return ""
	}
	xdgPath := filepath.Join(configHome, "ratewatch", "config.yaml")
	if _, err := os.Stat(xdgPath); err == nil {
		return xdgPath
	}
	return ""
}
