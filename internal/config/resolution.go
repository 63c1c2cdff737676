package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// Source names recorded in Resolved.Sources.
const (
	SourceCLI     = "cli"
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceDefault = "default"
)

// CliFlags holds command-line values. Pointer and empty-string fields mean
// the flag was not given.
type CliFlags struct {
	ConfigPath  string
	Monitor     ratemonitor.Options
	Retries     *int
	Subtests    *bool
	Theme       string
	LogFormat   string
	MetricsFile string
	Debug       bool
}

// Resolved is the final configuration after applying every source.
type Resolved struct {
	Monitor        ratemonitor.Options
	Groups         []GroupRule
	DefaultRetries int
	Subtests       bool
	Theme          string
	NoColor        bool
	LogFormat      string
	MetricsFile    string
	Debug          bool

	// ConfigFile is the file that was read, or "".
	ConfigFile string
	// Sources records where each monitor option came from, keyed by YAML name.
	Sources map[string]string
}

// Resolve loads the config file and layers environment and flags over it.
func Resolve(flags CliFlags) (*Resolved, error) {
	file, filePath, err := LoadFile(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	env, err := envOverrides()
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		Theme:      DefaultTheme,
		LogFormat:  DefaultLogFormat,
		ConfigFile: filePath,
		Groups:     file.Groups,
		Sources:    make(map[string]string),
	}

	r.Monitor = file.Options.Merge(env.Monitor).Merge(flags.Monitor)
	r.recordSources(file.Options, env.Monitor, flags.Monitor)

	for _, v := range []*int{file.Retries, env.Retries, flags.Retries} {
		if v != nil {
			r.DefaultRetries = *v
		}
	}
	for _, v := range []*bool{file.Subtests, flags.Subtests} {
		if v != nil {
			r.Subtests = *v
		}
	}
	r.Theme = firstNonEmpty(flags.Theme, env.Theme, file.Theme, DefaultTheme)
	r.LogFormat = firstNonEmpty(flags.LogFormat, env.LogFormat, file.LogFormat, DefaultLogFormat)
	r.MetricsFile = firstNonEmpty(flags.MetricsFile, env.MetricsFile, file.MetricsFile)
	r.Debug = flags.Debug || env.Debug || file.Debug
	r.NoColor = env.NoColor
	if r.NoColor && flags.Theme == "" {
		r.Theme = "mono"
	}

	switch r.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("%w: log format %q (expected text or json)", ErrInvalidValue, r.LogFormat)
	}
	return r, nil
}

// GroupOf returns the grouping name for a package: the first matching rule,
// or DefaultGroupName.
func (r *Resolved) GroupOf(pkg string) string {
	for _, g := range r.Groups {
		if g.matches(pkg) {
			return g.Name
		}
	}
	return DefaultGroupName
}

// RunConfig returns the retry limits the monitor needs at run start.
func (r *Resolved) RunConfig() ratemonitor.RunConfig {
	rc := ratemonitor.RunConfig{Groups: make([]ratemonitor.Group, 0, len(r.Groups)+1)}
	seen := make(map[string]bool, len(r.Groups)+1)
	for _, g := range r.Groups {
		// The first rule with a name wins, matching GroupOf.
		if seen[g.Name] {
			continue
		}
		seen[g.Name] = true
		rc.Groups = append(rc.Groups, ratemonitor.Group{Name: g.Name, Retries: g.Retries})
	}
	if !seen[DefaultGroupName] {
		rc.Groups = append(rc.Groups, ratemonitor.Group{Name: DefaultGroupName, Retries: r.DefaultRetries})
	}
	return rc
}

func (r *Resolved) recordSources(file, env, cli ratemonitor.Options) {
	layers := []struct {
		source string
		opts   ratemonitor.Options
	}{
		{SourceFile, file},
		{SourceEnv, env},
		{SourceCLI, cli},
	}
	for _, name := range []string{"max_failure_rate", "min_tests_before_evaluation", "failure_rate_check_interval", "enabled"} {
		r.Sources[name] = SourceDefault
	}
	for _, l := range layers {
		if l.opts.MaxFailureRate != nil {
			r.Sources["max_failure_rate"] = l.source
		}
		if l.opts.MinTestsBeforeEvaluation != nil {
			r.Sources["min_tests_before_evaluation"] = l.source
		}
		if l.opts.FailureRateCheckInterval != nil || l.opts.EvaluationInterval != nil {
			r.Sources["failure_rate_check_interval"] = l.source
		}
		if l.opts.Enabled != nil {
			r.Sources["enabled"] = l.source
		}
	}
}

// envValues holds settings read from the environment.
type envValues struct {
	Monitor     ratemonitor.Options
	Retries     *int
	Theme       string
	LogFormat   string
	MetricsFile string
	Debug       bool
	NoColor     bool
}

func envOverrides() (envValues, error) {
	var v envValues
	var err error

	if s, ok := lookup("MAX_FAILURE_RATE"); ok {
		if v.Monitor.MaxFailureRate, err = parseFloat("MAX_FAILURE_RATE", s); err != nil {
			return v, err
		}
	}
	if s, ok := lookup("MIN_TESTS_BEFORE_EVALUATION"); ok {
		if v.Monitor.MinTestsBeforeEvaluation, err = parseInt("MIN_TESTS_BEFORE_EVALUATION", s); err != nil {
			return v, err
		}
	}
	if s, ok := lookup("FAILURE_RATE_CHECK_INTERVAL"); ok {
		if v.Monitor.FailureRateCheckInterval, err = parseInt("FAILURE_RATE_CHECK_INTERVAL", s); err != nil {
			return v, err
		}
	}
	if s, ok := lookup("ENABLE_FAILURE_RATE_MONITOR"); ok {
		v.Monitor.Enabled = ratemonitor.Bool(s != "false")
	}
	if s, ok := os.LookupEnv("RATEWATCH_RETRIES"); ok && s != "" {
		if v.Retries, err = parseInt("RATEWATCH_RETRIES", s); err != nil {
			return v, err
		}
	}
	v.Theme = os.Getenv("RATEWATCH_THEME")
	v.LogFormat = os.Getenv("RATEWATCH_LOG_FORMAT")
	v.MetricsFile = os.Getenv("RATEWATCH_METRICS_FILE")
	if s := os.Getenv("RATEWATCH_DEBUG"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			v.Debug = b
		}
	}
	v.NoColor = os.Getenv("NO_COLOR") != ""
	return v, nil
}

// lookup returns RATEWATCH_<name> if set, else <name>. Empty values count as
// unset.
func lookup(name string) (string, bool) {
	if s, ok := os.LookupEnv("RATEWATCH_" + name); ok && s != "" {
		return s, true
	}
	if s, ok := os.LookupEnv(name); ok && s != "" {
		return s, true
	}
	return "", false
}

func parseFloat(name, s string) (*float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, name, s, err)
	}
	return &f, nil
}

func parseInt(name, s string) (*int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, name, s, err)
	}
	return &n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
