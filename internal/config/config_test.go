package config

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), cfg.Advertised)
	assert.Equal(t, 8080, cfg.SignalPort)
	assert.Equal(t, []uint16{3478, 3479}, cfg.MediaPorts())
	assert.Equal(t, EnvProd, cfg.Env)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, SecurityNone, cfg.TransportSecurity)
	assert.Equal(t, AuthNone, cfg.Auth)
	assert.Equal(t, 5*time.Second, cfg.SignalingTimeout)
	assert.Equal(t, "127.0.0.1:8080", cfg.SignalAddr())
	assert.Empty(t, cfg.ConfigFile())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--host", "0.0.0.0",
		"--ip-endpoint", "192.0.2.10",
		"--media-port-min", "4000",
		"--media-port-max", "4003",
		"--env", "dev",
		"--level", "debug",
		"--signaling-timeout", "250ms",
	})
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("192.0.2.10"), cfg.Advertised)
	assert.Equal(t, []uint16{4000, 4001, 4002, 4003}, cfg.MediaPorts())
	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, 250*time.Millisecond, cfg.SignalingTimeout)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sfu.yaml")
	require.NoError(t, os.WriteFile(file, []byte("signal-port: 9090\nlevel: warn\nmedia-port-max: 3480\n"), 0o600))
	t.Setenv("SFU_SIGNAL_PORT", "9191")

	cfg, err := Load([]string{"--config", file})
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.SignalPort)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, []uint16{3478, 3479, 3480}, cfg.MediaPorts())
	assert.Equal(t, file, cfg.ConfigFile())
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	t.Setenv("SFU_LEVEL", "trace")
	cfg, err := Load([]string{"--level", "error"})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string][]string{
		"reversed range":    {"--media-port-min", "5000", "--media-port-max", "4000"},
		"bad host":          {"--host", "not-an-ip"},
		"bad endpoint":      {"--ip-endpoint", "nope"},
		"bad env":           {"--env", "staging"},
		"bad level":         {"--level", "loud"},
		"tls without files": {"--transport-security", "tls_files"},
		"unknown security":  {"--transport-security", "quic"},
		"token no secret":   {"--auth", "token"},
		"unknown auth":      {"--auth", "basic"},
		"zero timeout":      {"--signaling-timeout", "0s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args)
			assert.Error(t, err)
		})
	}
}

func TestValidateAcceptsVariants(t *testing.T) {
	cfg, err := Load([]string{
		"--transport-security", "tls_files",
		"--tls-cert-file", "cert.pem",
		"--tls-key-file", "key.pem",
		"--auth", "token",
		"--secret", "s3cr3t",
	})
	require.NoError(t, err)
	assert.Equal(t, SecurityTLSFiles, cfg.TransportSecurity)
	assert.Equal(t, AuthToken, cfg.Auth)
}

func TestPickIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("169.254.3.4"), Mask: net.CIDRMask(16, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("10.1.2.3"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("10.9.9.9"), Mask: net.CIDRMask(8, 32)},
	}
	ip, ok := pickIPv4(addrs)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.1.2.3"), ip)

	_, ok = pickIPv4(addrs[:3])
	assert.False(t, ok)
}
