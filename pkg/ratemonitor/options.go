package ratemonitor

// Default option values.
const (
	DefaultMaxFailureRate           = 0.1
	DefaultMinTestsBeforeEvaluation = 10
	DefaultCheckInterval            = 5
)

// Options holds user-supplied monitor settings. A nil field means the option
// was omitted and the default applies.
type Options struct {
	// MaxFailureRate is the failure fraction (0-1) above which the run is
	// terminated.
	MaxFailureRate *float64 `yaml:"max_failure_rate,omitempty"`

	// MinTestsBeforeEvaluation is the number of final results required before
	// the rate is evaluated at all.
	MinTestsBeforeEvaluation *int `yaml:"min_tests_before_evaluation,omitempty"`

	// FailureRateCheckInterval is how often, in final results, the rate is
	// evaluated.
	FailureRateCheckInterval *int `yaml:"failure_rate_check_interval,omitempty"`

	// Deprecated: use FailureRateCheckInterval. Ignored when both are set.
	EvaluationInterval *int `yaml:"evaluation_interval,omitempty"`

	Enabled *bool `yaml:"enabled,omitempty"`
}

// Config is the resolved, immutable monitor configuration.
type Config struct {
	MaxFailureRate           float64
	MinTestsBeforeEvaluation int
	CheckInterval            int
	Enabled                  bool
}

// Resolve merges o over the defaults. Values are taken as-is: a rate of 1 or
// more can never be exceeded, a negative rate trips on the first evaluation
// with any failure, and a check interval of 0 never evaluates.
func (o Options) Resolve() Config {
	cfg := Config{
		MaxFailureRate:           DefaultMaxFailureRate,
		MinTestsBeforeEvaluation: DefaultMinTestsBeforeEvaluation,
		CheckInterval:            DefaultCheckInterval,
		Enabled:                  true,
	}
	if o.MaxFailureRate != nil {
		cfg.MaxFailureRate = *o.MaxFailureRate
	}
	if o.MinTestsBeforeEvaluation != nil {
		cfg.MinTestsBeforeEvaluation = *o.MinTestsBeforeEvaluation
	}
	switch {
	case o.FailureRateCheckInterval != nil:
		cfg.CheckInterval = *o.FailureRateCheckInterval
	case o.EvaluationInterval != nil:
		cfg.CheckInterval = *o.EvaluationInterval
	}
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	return cfg
}

// Merge returns o with every field that is set in override replaced.
// The deprecated alias travels with its preferred name: an override that sets
// either interval replaces both.
func (o Options) Merge(override Options) Options {
	if override.MaxFailureRate != nil {
		o.MaxFailureRate = override.MaxFailureRate
	}
	if override.MinTestsBeforeEvaluation != nil {
		o.MinTestsBeforeEvaluation = override.MinTestsBeforeEvaluation
	}
	if override.FailureRateCheckInterval != nil || override.EvaluationInterval != nil {
		o.FailureRateCheckInterval = override.FailureRateCheckInterval
		o.EvaluationInterval = override.EvaluationInterval
	}
	if override.Enabled != nil {
		o.Enabled = override.Enabled
	}
	return o
}

// Float returns a pointer to v, for building Options literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
