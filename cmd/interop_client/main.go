// Command interop_client runs one interop test case against a TestService server.
//
//	interop_client -server_host=localhost -server_port=10000 -test_case=large_unary
//
// It exits 0 when the case passes, 1 when it fails and 2 on a configuration error.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"strconv"

	"go.uber.org/zap"

	"interop-rpc/client"
	"interop-rpc/interop"
	"interop-rpc/loadbalance"
	"interop-rpc/logging"
	"interop-rpc/registry"
	"interop-rpc/testpb"
	"interop-rpc/transport"
)

func main() {
	log := logging.Runtime().Named("interop_client")
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

	code := run(context.Background(), cfg, log)
	log.Sync()
	os.Exit(code)
}

// run executes the configured case once and returns the process exit status.
func run(ctx context.Context, cfg clientConfig, log *zap.Logger) int {
	reg, closeReg, err := newRegistry(cfg, log)
	if err != nil {
		log.Error("registry setup failed", zap.Error(err))
		return 2
	}
	defer closeReg()

	bal, err := loadbalance.New(cfg.Balancer, cfg.ServerHost)
	if err != nil {
		log.Error("balancer setup failed", zap.Error(err))
		return 2
	}
	c := client.NewClient(reg, bal, client.Options{
		Transport: transport.Options{Codec: cfg.codec, Compress: cfg.Compress},
		TLS:       cfg.TLS,
		Logger:    log,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	fields := []zap.Field{
		zap.Stringer("case", cfg.testCase),
		zap.Stringer("codec", cfg.codec),
		zap.Bool("tls", cfg.TLS.Enabled),
	}
	err = interop.Run(ctx, cfg.testCase, testpb.NewTestServiceClient(c))
	var ce *interop.ConformanceError
	switch {
	case err == nil:
		log.Info("test case passed", fields...)
		return 0
	case errors.As(err, &ce):
		log.Error("conformance failure", append(fields,
			zap.String("check", ce.Check),
			zap.Any("want", ce.Want),
			zap.Any("got", ce.Got),
		)...)
		return 1
	default:
		log.Error("test case failed", append(fields, zap.Error(err))...)
		return 1
	}
}

// newRegistry resolves TestService through etcd when endpoints are configured and
// through the -server_host/-server_port pair otherwise.
func newRegistry(cfg clientConfig, log *zap.Logger) (registry.Registry, func(), error) {
	if len(cfg.EtcdEndpoints) == 0 {
		addr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
		return registry.NewStaticRegistry(testpb.ServiceName, addr), func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, log)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() {
		if err := reg.Close(); err != nil {
			log.Warn("close registry", zap.Error(err))
		}
	}, nil
}
