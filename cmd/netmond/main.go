package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netmond/internal/metrics"
	"github.com/dmdmdm-nz/netmond/internal/netmon"
	"github.com/dmdmdm-nz/netmond/internal/runtime"
	"github.com/dmdmdm-nz/netmond/pkg/cli"
)

func main() {
	app := cli.NewApp(run)
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("netmond exited with an error")
	}
}

func run(cfg *cli.Config) error {
	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Infof("Config: %s", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	netmonSvc := netmon.NewService(
		func(ev netmon.NetworkChangeEvent) {
			log.WithFields(log.Fields{
				"nic":   ev.Has(netmon.NicChanged),
				"ip":    ev.Has(netmon.AddressChanged),
				"route": ev.Has(netmon.RouteChanged),
			}).Infof("Network changed: %s", ev)
		},
		netmon.WithRecorder(m),
		netmon.WithSetupAttempts(cfg.SetupAttempts),
		netmon.WithRetryMaxDelay(cfg.RetryMaxDelay),
		netmon.WithMonitorOptions(netmon.WithMaxReceiveCycles(cfg.MaxReceiveCycles)),
	)

	super := runtime.NewSupervisor()
	super.Add("netmon", netmonSvc.Start, netmonSvc.Close)
	if cfg.MetricsAddress != "" {
		log.Infof("Serving metrics at %s%s", cfg.MetricsAddress, cfg.MetricsPath)
		super.Add("metrics", func(ctx context.Context) error {
			return metrics.StartServer(ctx, cfg.MetricsAddress, cfg.MetricsPath)
		}, nil)
	}

	if err := super.Start(ctx); err != nil {
		return err
	}
	return super.Wait()
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
