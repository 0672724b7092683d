package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"sslproxy/internal/certcache"
	"sslproxy/internal/config"
	"sslproxy/internal/connctx"
	"sslproxy/internal/metrics"
	"sslproxy/internal/ui"
	"sslproxy/internal/workerpool"

	"github.com/joho/godotenv"
)

func main() {
	// We ignore the error because in production/docker we might be
	// relying on system env vars instead of a .env file.
	_ = godotenv.Load()

	ui.PrintBanner()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		ui.LogStatus("error", err.Error())
		os.Exit(1)
	}

	if cfg.Env.IsDevelopment() {
		ui.LogStatus("info", "Environment: "+ui.Warn("DEVELOPMENT"))
	} else {
		ui.LogStatus("info", "Environment: "+ui.Success("PRODUCTION"))
	}

	certs, err := certcache.NewStore(cfg.CACertFile, cfg.CAKeyFile, cfg.LeafKeyFile,
		cfg.TargetCertDir, cfg.CertGenDir, cfg.WriteAll, cfg.SessionCacheSize)
	if err != nil {
		ui.LogStatus("error", "Cannot load CA/leaf key material: "+err.Error())
		os.Exit(1)
	}

	var contentLog *ui.ContentLogger
	if cfg.ContentLog {
		contentLog, err = ui.NewContentLogger(cfg.ContentLogFile)
		if err != nil {
			ui.LogStatus("error", "Cannot open content log: "+err.Error())
			os.Exit(1)
		}
	}

	pool := workerpool.New(cfg.Workers)
	defer pool.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsSrv := metrics.NewServer(cfg.MetricsListen)
	metricsSrv.Start(func(err error) {
		ui.LogStatus("error", "Metrics server failed: "+err.Error())
	})
	go func() {
		<-ctx.Done()
		ui.LogGracefulShutdown()
		_ = metricsSrv.Shutdown(context.Background())
	}()

	ui.LogSection("Listeners")
	var listeners []net.Listener
	for _, spec := range cfg.Listeners {
		spec := spec
		ln, err := net.Listen("tcp", spec.Addr)
		if err != nil {
			ui.LogStatus("error", "Cannot bind "+spec.Addr+": "+err.Error())
			os.Exit(1)
		}
		listeners = append(listeners, ln)

		lc := &connctx.ListenerCtx{
			Spec:   &spec,
			Config: cfg,
			Certs:  certs,
			Pool:   pool,
			Log:    contentLog,
		}
		ui.LogStatus("info", "Listening on "+spec.Addr+" ("+string(spec.Protocol)+")")
		go acceptLoop(ctx, ln, lc)
	}

	go func() {
		<-ctx.Done()
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
}

// acceptLoop runs one listener's accept loop, handing every connection to
// connctx.StartParent to begin its own state machine (§4.3).
func acceptLoop(ctx context.Context, ln net.Listener, lc *connctx.ListenerCtx) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				ui.LogStatus("error", "Accept failed on "+lc.Spec.Addr+": "+err.Error())
				return
			}
		}
		connctx.StartParent(ctx, lc, conn)
	}
}
