// n2kd - NMEA 2000 PGN state aggregator and fan-out server
// Author: Carlos Rabelo <contato@carlosrabelo.com.br>

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carlosrabelo/n2kd/internal/httpstatus"
	"github.com/carlosrabelo/n2kd/internal/metrics"
	"github.com/carlosrabelo/n2kd/internal/pgnstore"
	"github.com/carlosrabelo/n2kd/internal/registry"
	"github.com/carlosrabelo/n2kd/pkg/logger"
)

const defaultPort = 2597

func main() {
	debug := flag.Bool("d", false, "debug log level")
	quiet := flag.Bool("q", false, "error log level")
	copyStdin := flag.Bool("o", false, "stdout mode COPY: tee client input into the ingester")
	sinkStdout := flag.Bool("r", false, "stdout mode SINK: discard stdout")
	port := flag.Int("p", defaultPort, "JSON port (NMEA 0183 on port+1)")
	maxClients := flag.Int("max-clients", 0, "maximum concurrent client slots (0 = default)")
	httpAddr := flag.String("http", "", "optional debug HTTP listen address (healthz/status/metrics); disabled if empty")
	admitPerIP := flag.Int("admit-max-per-ip", 4, "max concurrent connections per source IP (0 = unlimited)")
	admitPerMinute := flag.Int("admit-max-per-minute", 30, "max new connections per source IP per minute before a temporary ban (0 = unlimited)")
	admitBan := flag.Duration("admit-ban-duration", 5*time.Minute, "ban duration once a source IP trips the per-minute limit")
	noAdmission := flag.Bool("no-admission-limit", false, "disable per-IP connection admission limiting entirely")
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	switch {
	case *debug:
		logger.SetLevel(logger.LevelDebug)
	case *quiet:
		logger.SetLevel(logger.LevelError)
	}

	if *copyStdin && *sinkStdout {
		fmt.Fprintln(os.Stderr, "n2kd: -o and -r are mutually exclusive")
		os.Exit(1)
	}

	stdoutMode := registry.StdoutPassthrough
	switch {
	case *copyStdin:
		stdoutMode = registry.StdoutCopy
	case *sinkStdout:
		stdoutMode = registry.StdoutSink
	}

	cfg := registry.Config{
		MaxClients: *maxClients,
		StdoutMode: stdoutMode,
		Admission: registry.AdmissionLimits{
			Enabled:                 !*noAdmission,
			MaxConnectionsPerIP:     *admitPerIP,
			MaxConnectionsPerMinute: *admitPerMinute,
			BanDuration:             *admitBan,
			CleanupInterval:         time.Minute,
		},
	}

	mx := metrics.NewCollector()
	mx.AttachPrometheus(metrics.InitPrometheus("n2kd"))
	srv := registry.NewServer(cfg, pgnstore.SystemClock{}, os.Stdout, mx)

	jsonAddr := net.JoinHostPort("", strconv.Itoa(*port))
	nmeaAddr := net.JoinHostPort("", strconv.Itoa(*port+1))

	jsonLn, err := net.Listen("tcp", jsonAddr)
	if err != nil {
		logger.Error("n2kd: listen %s: %v", jsonAddr, err)
		os.Exit(1)
	}
	nmeaLn, err := net.Listen("tcp", nmeaAddr)
	if err != nil {
		logger.Error("n2kd: listen %s: %v", nmeaAddr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *httpAddr != "" {
		hs := httpstatus.New(*httpAddr, srv)
		go func() {
			if err := hs.Serve(ctx); err != nil {
				logger.Error("n2kd: http server: %v", err)
			}
		}()
	}

	go func() {
		if err := srv.ServeJSON(ctx, jsonLn); err != nil {
			logger.Error("n2kd: json listener: %v", err)
		}
	}()
	go func() {
		if err := srv.ServeNMEA(ctx, nmeaLn); err != nil {
			logger.Error("n2kd: nmea listener: %v", err)
		}
	}()
	go srv.RunStdin(os.Stdin)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- srv.Run(ctx) }()

	logger.Info("n2kd: listening json=%s nmea=%s", jsonAddr, nmeaAddr)

	select {
	case <-sigCh:
		logger.Info("n2kd: shutting down")
		cancel()
		<-runErrCh
		os.Exit(0)
	case err := <-runErrCh:
		cancel()
		if err != nil {
			logger.Error("n2kd: fatal: %v", err)
			time.Sleep(100 * time.Millisecond)
			os.Exit(2)
		}
		os.Exit(0)
	}
}
