// Package config resolves ratewatch settings.
//
// # Configuration Precedence
//
// Values are resolved in the following order (highest to lowest priority):
//
//  1. CLI flags (-max-failure-rate, -min-tests, -check-interval, -retries, ...)
//  2. Environment variables (RATEWATCH_* first, then the bare names below)
//  3. YAML config file (.ratewatch.yaml in the working directory, or
//     ratewatch/config.yaml under the user config directory)
//  4. Hardcoded defaults
//
// Monitor options are merged field by field, so a flag that sets only the
// threshold keeps the file's check interval.
//
// # Validation
//
// Only values that cannot be parsed are rejected. Numeric ranges are not
// checked: a threshold of 1 or more effectively disables termination, and
// callers may rely on that.
//
// # Environment Variables
//
//   - MAX_FAILURE_RATE, MIN_TESTS_BEFORE_EVALUATION, FAILURE_RATE_CHECK_INTERVAL:
//     monitor options (also accepted with a RATEWATCH_ prefix)
//   - ENABLE_FAILURE_RATE_MONITOR: "false" disables the monitor, any other
//     value enables it
//   - RATEWATCH_RETRIES, RATEWATCH_THEME, RATEWATCH_LOG_FORMAT,
//     RATEWATCH_METRICS_FILE, RATEWATCH_DEBUG
//   - NO_COLOR: any non-empty value selects the mono theme
package config
