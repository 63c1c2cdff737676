// Package metrics exports a run's final monitor counters in the Prometheus
// text exposition format, for node_exporter's textfile collector or a CI
// artifact.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// Snapshot is everything exported for one run.
type Snapshot struct {
	RunID    string
	Stats    ratemonitor.Stats
	Config   ratemonitor.Config
	Duration time.Duration
}

// Families builds the metric families for s, in a stable order.
func Families(s Snapshot) []*dto.MetricFamily {
	terminated := 0.0
	if s.Stats.Terminated {
		terminated = 1
	}
	return []*dto.MetricFamily{
		counter("ratewatch_tests_completed_total", "Final test results counted by the failure-rate monitor.", s.RunID, float64(s.Stats.Completed)),
		counter("ratewatch_tests_failed_total", "Final test results that failed or timed out.", s.RunID, float64(s.Stats.Failed)),
		gauge("ratewatch_failure_ratio", "Failed over completed final results.", s.RunID, s.Stats.Rate()),
		gauge("ratewatch_failure_threshold_ratio", "Configured maximum failure rate.", s.RunID, s.Config.MaxFailureRate),
		gauge("ratewatch_terminated", "1 if the monitor stopped the run early.", s.RunID, terminated),
		gauge("ratewatch_run_duration_seconds", "Wall time from run start to run end.", s.RunID, s.Duration.Seconds()),
	}
}

// Write renders s to w in text format.
func Write(w io.Writer, s Snapshot) error {
	for _, mf := range Families(s) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes s to path atomically, so a collector never reads a
// partial file.
func WriteFile(path string, s Snapshot) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating metrics file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, s); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing metrics file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming metrics file: %w", err)
	}
	return nil
}

// Parse decodes a text exposition, keyed by family name.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

func counter(name, help, runID string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label:   runLabels(runID),
			Counter: &dto.Counter{Value: ptr(v)},
		}},
	}
}

func gauge(name, help, runID string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Label: runLabels(runID),
			Gauge: &dto.Gauge{Value: ptr(v)},
		}},
	}
}

func runLabels(runID string) []*dto.LabelPair {
	if runID == "" {
		return nil
	}
	return []*dto.LabelPair{{Name: ptr("run_id"), Value: ptr(runID)}}
}

func ptr[T any](v T) *T { return &v }
