// ratewatch watches a go test -json stream and stops the run early when the
// failure rate says the environment is broken.
//
// Usage:
//
//	go test -json ./... | ratewatch
//	ratewatch -max-failure-rate 0.2 -- go test -json -count=1 ./...
//
// With a command after the flags, ratewatch starts it, reads its stdout as
// go test -json and kills it on early termination. Without one it reads stdin.
//
// Exit codes: 0 all tests passed, 1 test failures or early termination,
// 2 usage or input error, 130 interrupted.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dkoosis/ratewatch/internal/config"
	"github.com/dkoosis/ratewatch/internal/detect"
	"github.com/dkoosis/ratewatch/internal/logging"
	"github.com/dkoosis/ratewatch/internal/runner"
	"github.com/dkoosis/ratewatch/internal/terminate"
	"github.com/dkoosis/ratewatch/internal/version"
	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
	"github.com/dkoosis/ratewatch/pkg/stream"
)

// osExit is replaced in tests so a fired terminator cannot end the test binary.
var osExit = os.Exit

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ratewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ratewatch [flags] [-- command args...]\n\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Config file (default .ratewatch.yaml, then the user config dir)")
	maxRate := fs.Float64("max-failure-rate", ratemonitor.DefaultMaxFailureRate, "Failure ratio above which the run is terminated")
	minTests := fs.Int("min-tests", ratemonitor.DefaultMinTestsBeforeEvaluation, "Completed tests required before the first evaluation")
	interval := fs.Int("check-interval", ratemonitor.DefaultCheckInterval, "Evaluate every N completed tests")
	evalInterval := fs.Int("evaluation-interval", 0, "Deprecated: use -check-interval")
	enabled := fs.Bool("enabled", true, "Enable the failure-rate monitor")
	retries := fs.Int("retries", 0, "Retries per test for packages no group rule matches")
	subtests := fs.Bool("subtests", false, "Count subtests as tests")
	themeFlag := fs.String("theme", "", "Theme: default, orca, mono")
	logFormat := fs.String("log-format", "", "Output format: text, json")
	metricsFile := fs.String("metrics-file", "", "Write final counters in Prometheus text format to this file")
	jsonOut := fs.String("json-out", "", "Copy the raw go test -json stream to this file")
	debug := fs.Bool("debug", false, "Enable debug diagnostics on stderr")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return runner.ExitError
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return runner.ExitOK
	}

	flags := config.CliFlags{
		ConfigPath:  *configPath,
		Theme:       *themeFlag,
		LogFormat:   *logFormat,
		MetricsFile: *metricsFile,
		Debug:       *debug,
	}
	// Only flags given explicitly override the environment and config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-failure-rate":
			flags.Monitor.MaxFailureRate = ratemonitor.Float(*maxRate)
		case "min-tests":
			flags.Monitor.MinTestsBeforeEvaluation = ratemonitor.Int(*minTests)
		case "check-interval":
			flags.Monitor.FailureRateCheckInterval = ratemonitor.Int(*interval)
		case "evaluation-interval":
			flags.Monitor.EvaluationInterval = ratemonitor.Int(*evalInterval)
		case "enabled":
			flags.Monitor.Enabled = ratemonitor.Bool(*enabled)
		case "retries":
			flags.Retries = ratemonitor.Int(*retries)
		case "subtests":
			flags.Subtests = ratemonitor.Bool(*subtests)
		}
	})

	resolved, err := config.Resolve(flags)
	if err != nil {
		fmt.Fprintf(stderr, "ratewatch: %v\n", err)
		return runner.ExitError
	}

	command := fs.Args()
	if len(command) == 0 && isTTYReader(stdin) {
		fmt.Fprintf(stderr, "ratewatch: no input (pipe go test -json output or pass a command after --)\n")
		return runner.ExitError
	}

	log := logging.New(stderr, resolved.LogFormat, resolved.Debug)
	defer func() { _ = log.Sync() }()
	if resolved.ConfigFile != "" {
		log.Debug("loaded config file", zap.String("path", resolved.ConfigFile))
	}
	if flags.Monitor.EvaluationInterval != nil {
		log.Warn("-evaluation-interval is deprecated, use -check-interval")
	}

	sink, passthrough, closeSink := newSink(resolved, stdout, stderr)
	defer closeSink()

	cfg := runner.Config{
		Monitor:     resolved.Monitor,
		RunConfig:   resolved.RunConfig(),
		Group:       resolved.GroupOf,
		Subtests:    resolved.Subtests,
		MetricsFile: resolved.MetricsFile,
	}
	if *jsonOut != "" {
		f, err := os.Create(*jsonOut)
		if err != nil {
			fmt.Fprintf(stderr, "ratewatch: %v\n", err)
			return runner.ExitError
		}
		defer f.Close()
		cfg.Tee = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := runner.New(cfg, sink, terminate.New(sink, osExit), log)
	r.Passthrough = passthrough

	var res runner.Result
	if len(command) > 0 {
		res, err = r.RunCommand(ctx, command[0], command[1:]...)
	} else {
		src, ok := sniffInput(stdin, stderr, log)
		if !ok {
			return runner.ExitError
		}
		res, err = r.Run(ctx, src)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ratewatch: %v\n", err)
		return runner.ExitError
	}
	return res.ExitCode()
}

// sniffInput peeks at stdin and rejects plain go test output, which would
// otherwise read as a run with no tests. The returned reader replays the
// peeked bytes and still closes stdin so a cancelled Stream can unblock.
func sniffInput(stdin io.Reader, stderr io.Writer, log *zap.Logger) (io.Reader, bool) {
	br := bufio.NewReaderSize(stdin, detect.SniffSize)
	peeked, _ := br.Peek(detect.SniffSize)
	switch detect.Sniff(peeked) {
	case detect.GoTestText:
		fmt.Fprintf(stderr, "ratewatch: input is plain go test output; run go test with -json\n")
		return nil, false
	case detect.Unknown:
		if len(peeked) > 0 {
			log.Warn("input does not start with a go test -json event")
		}
	}
	if c, ok := stdin.(io.Closer); ok {
		return struct {
			io.Reader
			io.Closer
		}{br, c}, true
	}
	return br, true
}

// newSink picks the notice sink for the resolved output format. It also
// returns where a spawned command's stderr goes and a cleanup func.
func newSink(resolved *config.Resolved, stdout, stderr io.Writer) (ratemonitor.Sink, func(string), func()) {
	if resolved.LogFormat == logging.FormatJSON {
		out := logging.New(stdout, logging.FormatJSON, resolved.Debug)
		return logging.NewNoticeSink(out),
			func(line string) { fmt.Fprintln(stderr, line) },
			func() { _ = out.Sync() }
	}

	live := isTTYWriter(stdout)
	s := stream.NewSink(stdout, stream.ThemeByName(resolved.Theme), termWidth(stdout), live)
	if live {
		// Keep command noise above the footer instead of tearing through it.
		return s, s.Println, s.Close
	}
	return s, func(line string) { fmt.Fprintln(stderr, line) }, s.Close
}

// isTTYWriter reports whether w is a terminal.
func isTTYWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func isTTYReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// termWidth returns the terminal width for w, defaulting to 80.
func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			return tw
		}
	}
	return 80
}
