// Command interop_server serves the reference TestService.
//
//	interop_server -port=10000 [-use_tls -cert_file=server.pem -key_file=server.key]
//
// With -etcd_endpoints the service is registered under its advertise address and
// deregistered again on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"interop-rpc/interop"
	"interop-rpc/logging"
	"interop-rpc/middleware"
	"interop-rpc/registry"
	"interop-rpc/server"
	"interop-rpc/testpb"
)

func main() {
	log := logging.Runtime().Named("interop_server")
	defer log.Sync()

	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		log.Sync()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		log.Error("listen failed", zap.Int("port", cfg.Port), zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	if err := serve(ctx, cfg, log, l, os.Stdout); err != nil {
		log.Error("server stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

// serve runs TestService on l until ctx is done, then shuts down gracefully.
// Spans go to traceOut when cfg.Trace is set.
func serve(ctx context.Context, cfg serverConfig, log *zap.Logger, l net.Listener, traceOut io.Writer) error {
	svr, cleanup, err := newServer(cfg, log, traceOut)
	if err != nil {
		l.Close()
		return err
	}
	defer cleanup()

	var reg registry.Registry
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = l.Addr().String()
	}
	if len(cfg.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, log)
		if err != nil {
			l.Close()
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	errc := make(chan error, 1)
	go func() { errc <- svr.ServeListener(l, advertise, reg) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))
	if err := svr.Shutdown(cfg.ShutdownGrace); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	return <-errc
}

// newServer builds the server with TestService registered and the middleware stack
// the configuration asks for. cleanup flushes the span exporter.
func newServer(cfg serverConfig, log *zap.Logger, traceOut io.Writer) (*server.Server, func(), error) {
	svr := server.NewServer()
	svr.SetLogger(log)
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.ServerConfig()
		if err != nil {
			return nil, nil, err
		}
		svr.SetTLSConfig(tlsCfg)
	}
	if err := testpb.RegisterTestServiceServer(svr, interop.NewTestServer(log)); err != nil {
		return nil, nil, fmt.Errorf("register TestService: %w", err)
	}

	cleanup := func() {}
	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(traceOut))
		if err != nil {
			return nil, nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		tracing := middleware.TracingConfig{TracerProvider: tp, ServiceName: testpb.ServiceName}
		svr.Use(middleware.TracingMiddleware(tracing))
		svr.UseStream(middleware.TracingStreamMiddleware(tracing))
		cleanup = func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn("flush spans", zap.Error(err))
			}
		}
	}

	svr.Use(middleware.LoggingMiddleware(log))
	svr.UseStream(middleware.LoggingStreamMiddleware(log))
	if cfg.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
		svr.Use(middleware.LimiterMiddleware(limiter))
		svr.UseStream(middleware.LimiterStreamMiddleware(limiter))
	}
	if cfg.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	return svr, cleanup, nil
}
