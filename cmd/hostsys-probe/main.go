// Command hostsys-probe reports which host memory and thread capabilities
// work on this machine. With a listen address it keeps serving the results
// as health endpoints and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/srediag/hostsys/adapter"
	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/internal/probe"
	"github.com/srediag/hostsys/pkg/fault"
	"github.com/srediag/hostsys/pkg/hostsys"
	"github.com/srediag/hostsys/pkg/threading"
)

var logger = logging.New("hostsys-probe", os.Stderr)

var (
	configPath = flag.String("config", "", "path to a TOML config file")
	listen     = flag.String("listen", "", "serve /live, /ready and /metrics on this address instead of exiting")
)

func main() {
	flag.Parse()
	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *listen != "" {
		config.Listen = *listen
	}
	logging.SetLevel(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, config, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *Config, out io.Writer) error {
	reg := prometheus.NewRegistry()
	metrics, err := adapter.NewPrometheusObserver(reg, config.Namespace)
	if err != nil {
		return err
	}
	// No-op unless the embedding process installed an SDK.
	traced, err := adapter.NewOTelObserver(otel.Meter("hostsys"), otel.Tracer("hostsys"))
	if err != nil {
		return err
	}
	prev := hostsys.SetObserver(adapter.Chain(metrics, traced))
	defer hostsys.SetObserver(prev)

	trap := fault.New(fault.WithObserver(metrics.ObserveFault))
	if err := trap.Install(probe.FaultHandler); err != nil {
		logger.Infof("fault trap not installed: %v", err)
	}
	probes := probe.Default(probe.Options{
		ArenaSize:  uintptr(config.ArenaSize),
		ShmMinFree: config.ShmMinFree,
		Trap:       trap,
	})
	probeCtx, cancel := context.WithTimeout(ctx, config.ProbeTimeout.Duration)
	results, err := probe.Run(probeCtx, probes, config.Workers)
	cancel()
	if err != nil {
		return err
	}
	report(out, results)

	if config.Listen == "" {
		if !probe.Ready(results) {
			return errors.New("required capabilities missing")
		}
		return nil
	}
	return serve(ctx, config, reg, probes)
}

func report(out io.Writer, results []probe.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "host\t%s\n", hostsys.OSVersionString())
	fmt.Fprintf(w, "page size\t%d\n", hostsys.PageSize())
	fmt.Fprintf(w, "cache line\t%d\n", hostsys.CacheLineSize())
	fmt.Fprintf(w, "memory\t%d MiB (%d MiB available)\n", hostsys.PhysicalMemory()>>20, hostsys.AvailablePhysicalMemory()>>20)
	fmt.Fprintf(w, "tick frequency\t%d\n", threading.TickFrequency())
	for _, r := range results {
		status := "ok"
		switch {
		case r.Unsupported():
			status = "unsupported"
		case !r.OK():
			status = "FAILED: " + r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Duration.Round(time.Microsecond))
	}
	_ = w.Flush()
}

func serve(ctx context.Context, config *Config, reg *prometheus.Registry, probes []probe.Probe) error {
	health := healthcheck.NewMetricsHandler(reg, config.Namespace)
	adapter.RegisterProbes(health, probes, adapter.HealthOptions{
		Timeout:       config.ProbeTimeout.Duration,
		MaxGoroutines: config.MaxGoroutines,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: config.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("serving on %s", config.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
