package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/distcodep7/conference/trace"
)

type ResultType string

const (
	TypeSuccess ResultType = "success"
	TypeFailure ResultType = "failure"
)

// CheckResult is one entry of the JSON report.
type CheckResult struct {
	Type       ResultType `json:"type"`
	Name       string     `json:"name"`
	DurationMs int64      `json:"duration_ms"`
	Message    string     `json:"message,omitempty"`
}

func main() {
	traceFlag := flag.String("trace", "trace_log.jsonl", "Trace file written by the conference.")
	peersFlag := flag.Int("peers", 0, "Expected number of peers; 0 skips the admission check.")
	roundsFlag := flag.Int("rounds", 0, "Expected number of rounds; 0 skips the admission check.")
	outFlag := flag.String("out", "", "Write the JSON report to this file instead of stdout.")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	f, err := os.Open(*traceFlag)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open trace", "err", err)
		os.Exit(1)
	}
	start := time.Now()
	events, err := trace.ReadEvents(f)
	f.Close()
	if err != nil {
		level.Error(logger).Log("msg", "failed to read trace", "err", err)
		os.Exit(1)
	}

	failed := false
	var results []CheckResult
	for _, v := range trace.Check(events, *peersFlag, *roundsFlag) {
		res := CheckResult{Type: TypeSuccess, Name: v.Name, DurationMs: time.Since(start).Milliseconds()}
		if !v.Success {
			res.Type = TypeFailure
			res.Message = v.Reason
			failed = true
		}
		results = append(results, res)
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		level.Error(logger).Log("msg", "failed to encode report", "err", err)
		os.Exit(1)
	}
	if *outFlag != "" {
		err = os.WriteFile(*outFlag, data, 0o644)
	} else {
		_, err = os.Stdout.Write(append(data, '\n'))
	}
	if err != nil {
		level.Error(logger).Log("msg", "failed to write report", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "checked trace", "events", len(events), "failed", failed)
	if failed {
		os.Exit(2)
	}
}
