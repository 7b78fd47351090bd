package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/distcodep7/conference/conference"
	"github.com/distcodep7/conference/config"
	"github.com/distcodep7/conference/logging"
	"github.com/distcodep7/conference/metrics"
	"github.com/distcodep7/conference/trace"
)

// loadConfig layers defaults, the config file, the environment and the
// command-line flags that were actually set.
func loadConfig(path, envFile string, set map[string]bool, flags *config.Config) (*config.Config, error) {
	conf := config.Default()
	if path != "" {
		var err error
		if conf, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := conf.ApplyEnv(envFile); err != nil {
		return nil, err
	}

	if set["peers"] {
		conf.Conference.Peers = flags.Conference.Peers
	}
	if set["rounds"] {
		conf.Conference.Rounds = flags.Conference.Rounds
	}
	if set["hold"] {
		conf.Conference.Hold = flags.Conference.Hold
	}
	if set["jitter"] {
		conf.Conference.Jitter = flags.Conference.Jitter
	}
	if set["transport"] {
		conf.Transport.Kind = flags.Transport.Kind
	}
	if set["controller"] {
		conf.Transport.Controller = flags.Transport.Controller
	}
	if set["loglevel"] {
		conf.Log.Level = flags.Log.Level
	}
	if set["logformat"] {
		conf.Log.Format = flags.Log.Format
	}
	if set["trace"] {
		conf.Log.Trace = flags.Log.Trace
	}
	if set["metrics"] {
		conf.Metrics.Addr = flags.Metrics.Addr
	}

	return conf, conf.Validate()
}

func main() {
	var flags config.Config
	configFlag := flag.String("config", "", "Path to a configuration file in TOML syntax.")
	envFlag := flag.String("env", ".env", "Optional file with CONFERENCE_* overrides.")
	flag.IntVar(&flags.Conference.Peers, "peers", 0, "Number of peers at the conference.")
	flag.IntVar(&flags.Conference.Rounds, "rounds", 0, "Rounds every peer plays.")
	flag.DurationVar(&flags.Conference.Hold, "hold", 0, "How long a peer stays at the table.")
	flag.DurationVar(&flags.Conference.Jitter, "jitter", 0, "Upper bound of the random pause around each round.")
	flag.StringVar(&flags.Transport.Kind, "transport", "", "Link fabric: local or grpc.")
	flag.StringVar(&flags.Transport.Controller, "controller", "", "Relay controller address; empty embeds one.")
	flag.StringVar(&flags.Log.Level, "loglevel", "", "Log level: debug, info, warn or error.")
	flag.StringVar(&flags.Log.Format, "logformat", "", "Log format: logfmt or json.")
	flag.StringVar(&flags.Log.Trace, "trace", "", "Write a JSONL execution trace to this file, replacing its contents.")
	flag.StringVar(&flags.Metrics.Addr, "metrics", "", "Serve Prometheus metrics on this address.")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	conf, err := loadConfig(*configFlag, *envFlag, set, &flags)
	if err != nil {
		bootstrap := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		level.Error(bootstrap).Log("msg", "failed to load the config", "err", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, conf.Log.Format, conf.Log.Level)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	go metrics.Serve(ctx, logger, conf.Metrics.Addr, reg)

	var rec *trace.Recorder
	if conf.Log.Trace != "" {
		if rec, err = trace.OpenFile(conf.Log.Trace); err != nil {
			level.Error(logger).Log("msg", "failed to open trace", "err", err)
			os.Exit(2)
		}
		defer rec.Close()
	}

	start := time.Now()
	_, err = conference.Run(ctx, conference.Options{
		Conference: conf.Conference,
		Transport:  conf.Transport,
		Logger:     logger,
		Metrics:    metrics.New(reg),
		Trace:      rec,
	})
	if err != nil {
		level.Error(logger).Log("msg", "conference did not finish", "err", err)
		rec.Close()
		os.Exit(3)
	}
	level.Info(logger).Log("msg", "all peers left the table", "elapsed", time.Since(start))
}
