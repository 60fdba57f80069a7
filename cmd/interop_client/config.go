package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"interop-rpc/codec"
	"interop-rpc/interop"
	"interop-rpc/loadbalance"
	"interop-rpc/transport"
)

var errMissingOption = errors.New("interop_client: missing required option")

// clientConfig is the resolved interop_client setup: defaults, then the -config file,
// then explicit flags.
type clientConfig struct {
	ServerHost    string
	ServerPort    int
	TestCase      string
	TLS           transport.TLSConfig
	Codec         string
	Compress      bool
	Timeout       time.Duration
	EtcdEndpoints []string
	Balancer      string

	// set by validate
	testCase interop.Case
	codec    codec.CodecType
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		TLS:      transport.TLSConfig{ServerNameOverride: transport.DefaultServerNameOverride},
		Codec:    "binary",
		Timeout:  30 * time.Second,
		Balancer: "round_robin",
	}
}

// interop_client config.toml keys.
type fileConfig struct {
	ServerHost         string   `toml:"server_host"`
	ServerPort         int      `toml:"server_port"`
	TestCase           string   `toml:"test_case"`
	UseTLS             bool     `toml:"use_tls"`
	CAFile             string   `toml:"ca_file"`
	ServerHostOverride string   `toml:"server_host_override"`
	Codec              string   `toml:"codec"`
	Compress           bool     `toml:"compress"`
	Timeout            string   `toml:"timeout"`
	EtcdEndpoints      []string `toml:"etcd_endpoints"`
	Balancer           string   `toml:"balancer"`
}

// loadConfigFile overlays the keys path defines onto cfg.
func loadConfigFile(path string, cfg *clientConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load interop_client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load interop_client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("server_host") {
		cfg.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		cfg.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("test_case") {
		cfg.TestCase = strings.TrimSpace(raw.TestCase)
	}
	if meta.IsDefined("use_tls") {
		cfg.TLS.Enabled = raw.UseTLS
	}
	if meta.IsDefined("ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("server_host_override") {
		cfg.TLS.ServerNameOverride = strings.TrimSpace(raw.ServerHostOverride)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("compress") {
		cfg.Compress = raw.Compress
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("load interop_client config: timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = splitList(strings.Join(raw.EtcdEndpoints, ","))
	}
	if meta.IsDefined("balancer") {
		cfg.Balancer = strings.TrimSpace(raw.Balancer)
	}
	return nil
}

// parseArgs builds the configuration from the command line and validates it. Flags
// given explicitly override the -config file.
func parseArgs(args []string, output io.Writer) (clientConfig, error) {
	fs := flag.NewFlagSet("interop_client", flag.ContinueOnError)
	fs.SetOutput(output)

	flagged := defaultClientConfig()
	configPath := fs.String("config", "", "TOML config file; explicit flags override its keys")
	fs.StringVar(&flagged.ServerHost, "server_host", "", "server host to connect to")
	fs.IntVar(&flagged.ServerPort, "server_port", 0, "server port to connect to")
	fs.StringVar(&flagged.TestCase, "test_case", "", "test case to run ("+strings.Join(interop.CaseNames(), ", ")+")")
	fs.BoolVar(&flagged.TLS.Enabled, "use_tls", false, "connect over TLS")
	fs.StringVar(&flagged.TLS.CAFile, "ca_file", "", "CA certificate used to verify the server")
	fs.StringVar(&flagged.TLS.ServerNameOverride, "server_host_override", flagged.TLS.ServerNameOverride, "server name checked against the certificate")
	fs.StringVar(&flagged.Codec, "codec", flagged.Codec, "envelope codec: json or binary")
	fs.BoolVar(&flagged.Compress, "compress", false, "zstd-compress request bodies")
	fs.DurationVar(&flagged.Timeout, "timeout", flagged.Timeout, "deadline for the whole test case")
	etcd := fs.String("etcd_endpoints", "", "comma-separated etcd endpoints; when set the server address is discovered")
	fs.StringVar(&flagged.Balancer, "balancer", flagged.Balancer, "balancer over discovered instances: round_robin, weighted_random or consistent_hash")
	if err := fs.Parse(args); err != nil {
		return clientConfig{}, err
	}
	if fs.NArg() > 0 {
		return clientConfig{}, fmt.Errorf("interop_client: unexpected arguments %q", fs.Args())
	}

	cfg := defaultClientConfig()
	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			return clientConfig{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server_host":
			cfg.ServerHost = strings.TrimSpace(flagged.ServerHost)
		case "server_port":
			cfg.ServerPort = flagged.ServerPort
		case "test_case":
			cfg.TestCase = strings.TrimSpace(flagged.TestCase)
		case "use_tls":
			cfg.TLS.Enabled = flagged.TLS.Enabled
		case "ca_file":
			cfg.TLS.CAFile = flagged.TLS.CAFile
		case "server_host_override":
			cfg.TLS.ServerNameOverride = flagged.TLS.ServerNameOverride
		case "codec":
			cfg.Codec = flagged.Codec
		case "compress":
			cfg.Compress = flagged.Compress
		case "timeout":
			cfg.Timeout = flagged.Timeout
		case "etcd_endpoints":
			cfg.EtcdEndpoints = splitList(*etcd)
		case "balancer":
			cfg.Balancer = flagged.Balancer
		}
	})

	if err := cfg.validate(); err != nil {
		return clientConfig{}, err
	}
	return cfg, nil
}

// validate checks every option before any network activity and resolves the case
// and codec names.
func (c *clientConfig) validate() error {
	if c.TestCase == "" {
		return fmt.Errorf("%w: -test_case", errMissingOption)
	}
	tc, err := interop.ParseCase(c.TestCase)
	if err != nil {
		return err
	}
	c.testCase = tc

	if len(c.EtcdEndpoints) == 0 {
		if c.ServerHost == "" {
			return fmt.Errorf("%w: -server_host", errMissingOption)
		}
		if c.ServerPort == 0 {
			return fmt.Errorf("%w: -server_port", errMissingOption)
		}
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("interop_client: invalid -server_port %d", c.ServerPort)
	}

	ct, err := codec.ParseType(c.Codec)
	if err != nil {
		return err
	}
	c.codec = ct

	if c.Timeout <= 0 {
		return fmt.Errorf("interop_client: -timeout must be positive, got %s", c.Timeout)
	}
	if _, err := loadbalance.New(c.Balancer, ""); err != nil {
		return err
	}
	return c.TLS.ValidateClient()
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
