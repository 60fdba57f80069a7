package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"interop-rpc/codec"
	"interop-rpc/interop"
	"interop-rpc/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs([]string{"-server_host=localhost", "-server_port=10000", "-test_case=ping_pong"}, io.Discard)
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.testCase != interop.PingPong {
		t.Fatalf("unexpected case: %s", cfg.testCase)
	}
	if cfg.codec != codec.CodecTypeBinary {
		t.Fatalf("unexpected codec: %s", cfg.codec)
	}
	if cfg.TLS.Enabled || cfg.TLS.ServerNameOverride != transport.DefaultServerNameOverride {
		t.Fatalf("unexpected tls config: %+v", cfg.TLS)
	}
	if cfg.Timeout != 30*time.Second || cfg.Balancer != "round_robin" {
		t.Fatalf("unexpected timeout/balancer: %s/%s", cfg.Timeout, cfg.Balancer)
	}
}

func TestParseArgsMissingOptions(t *testing.T) {
	tests := []struct {
		args []string
		flag string
	}{
		{[]string{"-server_host=localhost", "-server_port=10000"}, "-test_case"},
		{[]string{"-server_port=10000", "-test_case=empty_unary"}, "-server_host"},
		{[]string{"-server_host=localhost", "-test_case=empty_unary"}, "-server_port"},
	}
	for _, tt := range tests {
		_, err := parseArgs(tt.args, io.Discard)
		if !errors.Is(err, errMissingOption) {
			t.Fatalf("%v: expect errMissingOption, got %v", tt.args, err)
		}
		if !strings.Contains(err.Error(), tt.flag) {
			t.Fatalf("%v: error should name %s: %v", tt.args, tt.flag, err)
		}
	}
}

func TestParseArgsRejectsBadValues(t *testing.T) {
	base := []string{"-server_host=localhost", "-server_port=10000"}
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown case", []string{"-test_case=half_duplex"}, interop.ErrUnknownCase},
		{"tls without ca", []string{"-test_case=empty_unary", "-use_tls"}, transport.ErrTLSCAFileRequired},
	}
	for _, tt := range tests {
		_, err := parseArgs(append(base, tt.args...), io.Discard)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expect %v, got %v", tt.name, tt.want, err)
		}
	}

	for _, args := range [][]string{
		{"-test_case=empty_unary", "-codec=xml"},
		{"-test_case=empty_unary", "-balancer=random"},
		{"-test_case=empty_unary", "-timeout=0s"},
		{"-test_case=empty_unary", "-server_port=70000"},
		{"-test_case=empty_unary", "extra"},
		{"-no_such_flag"},
	} {
		if _, err := parseArgs(append(base, args...), io.Discard); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
}

func TestParseArgsEtcdNeedsNoAddress(t *testing.T) {
	cfg, err := parseArgs([]string{"-test_case=large_unary", "-etcd_endpoints= 10.0.0.1:2379, ,10.0.0.2:2379"}, io.Discard)
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if len(cfg.EtcdEndpoints) != 2 || cfg.EtcdEndpoints[1] != "10.0.0.2:2379" {
		t.Fatalf("unexpected endpoints: %q", cfg.EtcdEndpoints)
	}
}

func TestConfigFileOverlayAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
server_host = "interop.local"
server_port = 8443
test_case = "server_streaming"
use_tls = true
ca_file = "/etc/interop/ca.pem"
codec = "json"
compress = true
timeout = "5s"
balancer = "weighted_random"
`)
	cfg, err := parseArgs([]string{"-config", path, "-test_case=client_streaming", "-codec=binary"}, io.Discard)
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.ServerHost != "interop.local" || cfg.ServerPort != 8443 {
		t.Fatalf("unexpected address: %s:%d", cfg.ServerHost, cfg.ServerPort)
	}
	if cfg.testCase != interop.ClientStreaming {
		t.Fatalf("flag should win over the file: %s", cfg.testCase)
	}
	if cfg.codec != codec.CodecTypeBinary {
		t.Fatalf("flag should win over the file: %s", cfg.codec)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/interop/ca.pem" {
		t.Fatalf("unexpected tls config: %+v", cfg.TLS)
	}
	if cfg.TLS.ServerNameOverride != transport.DefaultServerNameOverride {
		t.Fatalf("undefined keys keep their defaults: %q", cfg.TLS.ServerNameOverride)
	}
	if !cfg.Compress || cfg.Timeout != 5*time.Second || cfg.Balancer != "weighted_random" {
		t.Fatalf("unexpected overlay: %+v", cfg)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"unknown key": `server_hostname = "x"`,
		"bad timeout": `timeout = "soon"`,
		"bad toml":    `server_host = `,
	} {
		path := writeConfig(t, content)
		if _, err := parseArgs([]string{"-config", path}, io.Discard); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
	if _, err := parseArgs([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, io.Discard); err == nil {
		t.Fatal("missing file: expected an error")
	}
}
