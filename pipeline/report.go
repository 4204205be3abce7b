package pipeline

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/hydrotrace/aggregate"
	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/pulse/async"
)

// JobSummary is one job's line in the run report.
type JobSummary struct {
	Seed       string         `yaml:"seed"`
	State      async.JobState `yaml:"state"`
	Stage      async.JobState `yaml:"stage,omitempty"`
	Error      string         `yaml:"error,omitempty"`
	Result     string         `yaml:"result,omitempty"`
	DurationMS int64          `yaml:"duration_ms"`
}

// Report summarises a run.
type Report struct {
	RunID            string        `yaml:"run_id"`
	Version          string        `yaml:"version"`
	Workspace        string        `yaml:"workspace"`
	Network          string        `yaml:"network"`
	Workers          int           `yaml:"workers"`
	SpatialReference int           `yaml:"spatial_reference"`
	StartedAt        time.Time     `yaml:"started_at"`
	FinishedAt       time.Time     `yaml:"finished_at"`
	Duration         time.Duration `yaml:"duration"`

	Discovered int `yaml:"discovered"`
	Succeeded  int `yaml:"succeeded"`
	Failed     int `yaml:"failed"`
	Attempted  int `yaml:"attempted"`
	Aggregated int `yaml:"aggregated"`

	Jobs        []JobSummary         `yaml:"jobs,omitempty"`
	Aggregation *aggregate.Report    `yaml:"aggregation,omitempty"`
	Failures    []async.Failure      `yaml:"failures,omitempty"`
	Warnings    []string             `yaml:"warnings,omitempty"`
	Host        *async.SystemMetrics `yaml:"host,omitempty"`

	// Path is where the report was written.
	Path string `yaml:"-"`
}

func summarise(b *async.Batch) []JobSummary {
	out := make([]JobSummary, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		s := JobSummary{
			Seed:       o.Job.Seed,
			State:      o.State,
			Result:     o.Result,
			DurationMS: o.Duration().Milliseconds(),
		}
		if o.Err != nil {
			s.Stage = o.Stage
			s.Error = o.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

// WriteReport writes r as YAML to path.
func WriteReport(path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", path)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read report %s", path)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "failed to parse report %s", path)
	}
	r.Path = path
	return &r, nil
}
