package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log/level"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/distcodep7/conference/controller"
	"github.com/distcodep7/conference/logging"
	"github.com/distcodep7/conference/metrics"
)

func main() {
	addrFlag := flag.String("addr", ":50051", "Address the relay controller listens on.")
	loglevelFlag := flag.String("loglevel", "info", "Log level: debug, info, warn or error.")
	logformatFlag := flag.String("logformat", "logfmt", "Log format: logfmt or json.")
	journalFlag := flag.String("journal", "", "Append every relayed envelope to this JSONL file.")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address.")
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logformatFlag, *loglevelFlag)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	srv := controller.NewServer(logger, metrics.New(reg))
	go metrics.Serve(ctx, logger, *metricsFlag, reg)

	if *journalFlag != "" {
		journal, err := controller.OpenJournal(*journalFlag, logger)
		if err != nil {
			level.Error(logger).Log("msg", "failed to open journal", "err", err)
			os.Exit(2)
		}
		defer journal.Close()
		srv.WithJournal(journal)
	}

	if err := controller.Serve(ctx, *addrFlag, srv); err != nil {
		level.Error(logger).Log("msg", "controller failed", "err", err)
		os.Exit(3)
	}
	level.Info(logger).Log("msg", "controller stopped")
}
