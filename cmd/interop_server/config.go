package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"interop-rpc/transport"
)

var errInvalidOption = errors.New("interop_server: invalid option")

// serverConfig is the resolved interop_server setup: defaults, then the -config file,
// then explicit flags.
type serverConfig struct {
	Port           int
	TLS            transport.TLSConfig
	AdvertiseAddr  string
	EtcdEndpoints  []string
	RateLimit      float64 // requests per second; 0 disables the limiter
	RateBurst      int
	HandlerTimeout time.Duration // 0 disables the unary deadline
	Trace          bool
	ShutdownGrace  time.Duration
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Port:          10000,
		RateBurst:     100,
		ShutdownGrace: 5 * time.Second,
	}
}

// interop_server config.toml keys.
type fileConfig struct {
	Port           int      `toml:"port"`
	UseTLS         bool     `toml:"use_tls"`
	CertFile       string   `toml:"cert_file"`
	KeyFile        string   `toml:"key_file"`
	AdvertiseAddr  string   `toml:"advertise_addr"`
	EtcdEndpoints  []string `toml:"etcd_endpoints"`
	RateLimit      float64  `toml:"rate_limit"`
	RateBurst      int      `toml:"rate_burst"`
	HandlerTimeout string   `toml:"handler_timeout"`
	Trace          bool     `toml:"trace"`
	ShutdownGrace  string   `toml:"shutdown_grace"`
}

func loadConfigFile(path string, cfg *serverConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load interop_server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load interop_server config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("use_tls") {
		cfg.TLS.Enabled = raw.UseTLS
	}
	if meta.IsDefined("cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("advertise_addr") {
		cfg.AdvertiseAddr = strings.TrimSpace(raw.AdvertiseAddr)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = splitList(strings.Join(raw.EtcdEndpoints, ","))
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("handler_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandlerTimeout))
		if err != nil {
			return fmt.Errorf("load interop_server config: handler_timeout: %w", err)
		}
		cfg.HandlerTimeout = d
	}
	if meta.IsDefined("trace") {
		cfg.Trace = raw.Trace
	}
	if meta.IsDefined("shutdown_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownGrace))
		if err != nil {
			return fmt.Errorf("load interop_server config: shutdown_grace: %w", err)
		}
		cfg.ShutdownGrace = d
	}
	return nil
}

func parseArgs(args []string, output io.Writer) (serverConfig, error) {
	fs := flag.NewFlagSet("interop_server", flag.ContinueOnError)
	fs.SetOutput(output)

	flagged := defaultServerConfig()
	configPath := fs.String("config", "", "TOML config file; explicit flags override its keys")
	fs.IntVar(&flagged.Port, "port", flagged.Port, "port to listen on (0 picks one)")
	fs.BoolVar(&flagged.TLS.Enabled, "use_tls", false, "serve over TLS")
	fs.StringVar(&flagged.TLS.CertFile, "cert_file", "", "TLS certificate chain")
	fs.StringVar(&flagged.TLS.KeyFile, "key_file", "", "TLS private key")
	fs.StringVar(&flagged.AdvertiseAddr, "advertise_addr", "", "address registered in etcd (defaults to the listen address)")
	etcd := fs.String("etcd_endpoints", "", "comma-separated etcd endpoints to register TestService with")
	fs.Float64Var(&flagged.RateLimit, "rate_limit", 0, "requests per second across calls and stream opens (0 disables)")
	fs.IntVar(&flagged.RateBurst, "rate_burst", flagged.RateBurst, "rate limiter burst")
	fs.DurationVar(&flagged.HandlerTimeout, "handler_timeout", 0, "deadline for each unary handler (0 disables)")
	fs.BoolVar(&flagged.Trace, "trace", false, "export spans to stdout")
	fs.DurationVar(&flagged.ShutdownGrace, "shutdown_grace", flagged.ShutdownGrace, "time in-flight calls get on shutdown")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}
	if fs.NArg() > 0 {
		return serverConfig{}, fmt.Errorf("interop_server: unexpected arguments %q", fs.Args())
	}

	cfg := defaultServerConfig()
	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			return serverConfig{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flagged.Port
		case "use_tls":
			cfg.TLS.Enabled = flagged.TLS.Enabled
		case "cert_file":
			cfg.TLS.CertFile = flagged.TLS.CertFile
		case "key_file":
			cfg.TLS.KeyFile = flagged.TLS.KeyFile
		case "advertise_addr":
			cfg.AdvertiseAddr = strings.TrimSpace(flagged.AdvertiseAddr)
		case "etcd_endpoints":
			cfg.EtcdEndpoints = splitList(*etcd)
		case "rate_limit":
			cfg.RateLimit = flagged.RateLimit
		case "rate_burst":
			cfg.RateBurst = flagged.RateBurst
		case "handler_timeout":
			cfg.HandlerTimeout = flagged.HandlerTimeout
		case "trace":
			cfg.Trace = flagged.Trace
		case "shutdown_grace":
			cfg.ShutdownGrace = flagged.ShutdownGrace
		}
	})

	if err := cfg.validate(); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func (c serverConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: -port %d", errInvalidOption, c.Port)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: -rate_limit %v", errInvalidOption, c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%w: -rate_burst must be at least 1 when -rate_limit is set", errInvalidOption)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("%w: -handler_timeout %s", errInvalidOption, c.HandlerTimeout)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("%w: -shutdown_grace %s", errInvalidOption, c.ShutdownGrace)
	}
	return c.TLS.ValidateServer()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
