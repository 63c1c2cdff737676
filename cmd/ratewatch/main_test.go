package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate keeps the developer's environment and config files out of a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	for _, name := range []string{
		"MAX_FAILURE_RATE", "MIN_TESTS_BEFORE_EVALUATION", "FAILURE_RATE_CHECK_INTERVAL", "ENABLE_FAILURE_RATE_MONITOR",
		"RATEWATCH_MAX_FAILURE_RATE", "RATEWATCH_MIN_TESTS_BEFORE_EVALUATION", "RATEWATCH_FAILURE_RATE_CHECK_INTERVAL",
		"RATEWATCH_ENABLE_FAILURE_RATE_MONITOR", "RATEWATCH_RETRIES", "RATEWATCH_THEME", "RATEWATCH_LOG_FORMAT",
		"RATEWATCH_METRICS_FILE", "RATEWATCH_DEBUG", "NO_COLOR",
	} {
		t.Setenv(name, "")
	}
	exits := 0
	osExit = func(int) { exits++ }
	t.Cleanup(func() {
		osExit = os.Exit
		if exits > 0 {
			t.Errorf("terminator fired %d time(s); the run should finish inside the grace period", exits)
		}
	})
	return dir
}

func goTestJSON(outcomes ...string) string {
	var b strings.Builder
	b.WriteString(`{"Action":"start","Package":"example.com/svc/api"}` + "\n")
	for i, o := range outcomes {
		name := fmt.Sprintf("TestEndpoint%02d", i)
		fmt.Fprintf(&b, `{"Action":"run","Package":"example.com/svc/api","Test":%q}`+"\n", name)
		fmt.Fprintf(&b, `{"Action":%q,"Package":"example.com/svc/api","Test":%q,"Elapsed":0.02}`+"\n", o, name)
	}
	return b.String()
}

func TestRun_When_HealthyRun(t *testing.T) {
	isolate(t)
	outcomes := make([]string, 12)
	for i := range outcomes {
		outcomes[i] = "pass"
	}
	outcomes[3] = "fail"

	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(goTestJSON(outcomes...)), &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1 (one test failed)", code)
	}
	out := stdout.String()
	for _, want := range []string{
		"Failure rate monitor enabled - will terminate if failure rate exceeds 10% after 10 tests",
		"Test failed (final): api.TestEndpoint03 (1/4)",
		"Failure rate check: 1/10 failed (10%)",
		"Failure rate monitor: Final rate 8% (1/12) - within acceptable limits",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q; got:\n%s", want, out)
		}
	}
}

func TestRun_When_EnvironmentDown(t *testing.T) {
	isolate(t)
	outcomes := make([]string, 30)
	for i := range outcomes {
		outcomes[i] = "fail"
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-min-tests", "5", "-check-interval", "5"}, strings.NewReader(goTestJSON(outcomes...)), &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	out := stdout.String()
	for _, want := range []string{
		"CRITICAL: Failure rate 100% exceeds threshold 10%",
		"Allowing 2000ms for report generation before terminating...",
		"Test execution terminated early: Failure rate 100% exceeded threshold 10%",
		"Final statistics: 5/5 tests failed (100%)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q; got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "TestEndpoint05") {
		t.Errorf("results after termination were reported:\n%s", out)
	}
}

func TestRun_When_Disabled(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-enabled=false"}, strings.NewReader(goTestJSON("pass", "pass")), &stdout, &stderr)

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("disabled monitor wrote output:\n%s", stdout.String())
	}
}

func TestRun_When_EnvDisables(t *testing.T) {
	isolate(t)
	t.Setenv("ENABLE_FAILURE_RATE_MONITOR", "false")

	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(goTestJSON("pass")), &stdout, &stderr)

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if strings.Contains(stdout.String(), "enabled") {
		t.Errorf("monitor announced itself although disabled:\n%s", stdout.String())
	}
}

func TestRun_When_FlagBeatsConfigFile(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, ".ratewatch.yaml"), []byte("max_failure_rate: 0.9\nmin_tests_before_evaluation: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	run([]string{"-max-failure-rate", "0.25"}, strings.NewReader(goTestJSON("pass")), &stdout, &stderr)

	if want := "exceeds 25% after 2 tests"; !strings.Contains(stdout.String(), want) {
		t.Errorf("stdout missing %q; got:\n%s", want, stdout.String())
	}
}

func TestRun_When_JSONFormat(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-log-format", "json"}, strings.NewReader(goTestJSON("pass", "fail")), &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) < 3 {
		t.Fatalf("got %d lines, want at least 3:\n%s", len(lines), stdout.String())
	}
	kinds := make(map[string]bool)
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line is not JSON: %q: %v", line, err)
		}
		kind, _ := rec["kind"].(string)
		kinds[kind] = true
	}
	for _, want := range []string{"enabled", "pass", "fail", "summary"} {
		if !kinds[want] {
			t.Errorf("no %q record in output:\n%s", want, stdout.String())
		}
	}
}

func TestRun_When_InvalidEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MAX_FAILURE_RATE", "lots")

	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(goTestJSON("pass")), &stdout, &stderr)

	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "ratewatch: invalid configuration value") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_When_UnknownFlag(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-bogus"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRun_Version(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-version"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.HasPrefix(stdout.String(), "ratewatch ") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_WritesJSONOutAndMetrics(t *testing.T) {
	dir := isolate(t)
	input := goTestJSON("pass", "pass")
	jsonOut := filepath.Join(dir, "events.json")
	metricsOut := filepath.Join(dir, "ratewatch.prom")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-json-out", jsonOut, "-metrics-file", metricsOut}, strings.NewReader(input), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}

	got, err := os.ReadFile(jsonOut)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != input {
		t.Errorf("json-out differs from input:\n%s", got)
	}
	prom, err := os.ReadFile(metricsOut)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), "ratewatch_tests_completed_total") {
		t.Errorf("metrics file missing counters:\n%s", prom)
	}
}

func TestRun_When_PlainGoTestOutput(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader("=== RUN   TestA\n--- PASS: TestA (0.00s)\nPASS\n"), &stdout, &stderr)

	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "run go test with -json") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_When_PipedBuildFails(t *testing.T) {
	isolate(t)
	input := strings.Join([]string{
		`{"ImportPath":"example.com/svc/db [example.com/svc/db.test]","Action":"build-output","Output":"# example.com/svc/db\n"}`,
		`{"ImportPath":"example.com/svc/db [example.com/svc/db.test]","Action":"build-fail"}`,
		`{"Action":"start","Package":"example.com/svc/db"}`,
		`{"Action":"fail","Package":"example.com/svc/db","Elapsed":0,"FailedBuild":"example.com/svc/db [example.com/svc/db.test]"}`,
	}, "\n") + "\n" + goTestJSON("pass", "pass")

	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(input), &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1 for a package that failed to build", code)
	}
	if !strings.Contains(stderr.String(), "example.com/svc/db") {
		t.Errorf("stderr does not name the failed package:\n%s", stderr.String())
	}
	if strings.Contains(stderr.String(), "does not start with a go test -json event") {
		t.Errorf("build output was not recognised as go test -json:\n%s", stderr.String())
	}
}
