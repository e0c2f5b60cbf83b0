package sfu

import (
	"crypto/tls"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultReportInterval   = time.Second
	DefaultSCTPBuffer       = 1024 * 1024
	DefaultMaxMessageSize   = 262144
)

type ServerOptions struct {
	// Certificates used for DTLS. A self-signed ECDSA certificate is
	// generated when empty.
	Certificates     []tls.Certificate
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ReportInterval   time.Duration
	SCTPBuffer       uint32
	LoggerFactory    logging.LoggerFactory
}

// ServerConfig is built once at startup and shared read-only by every worker.
type ServerConfig struct {
	Certificates     []tls.Certificate
	Fingerprints     []Fingerprint
	DTLS             *dtls.Config
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ReportInterval   time.Duration
	SCTPBuffer       uint32
	MaxMessageSize   int
	LoggerFactory    logging.LoggerFactory
}

func NewServerConfig(opts ServerOptions) (*ServerConfig, error) {
	certs := opts.Certificates
	if len(certs) == 0 {
		cert, err := GenerateCertificate()
		if err != nil {
			return nil, err
		}
		certs = []tls.Certificate{cert}
	}
	fps, err := Fingerprints(certs)
	if err != nil {
		return nil, err
	}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	cfg := &ServerConfig{
		Certificates:     certs,
		Fingerprints:     fps,
		HandshakeTimeout: orDefault(opts.HandshakeTimeout, DefaultHandshakeTimeout),
		IdleTimeout:      orDefault(opts.IdleTimeout, DefaultIdleTimeout),
		ReportInterval:   orDefault(opts.ReportInterval, DefaultReportInterval),
		SCTPBuffer:       opts.SCTPBuffer,
		MaxMessageSize:   DefaultMaxMessageSize,
		LoggerFactory:    opts.LoggerFactory,
	}
	if cfg.SCTPBuffer == 0 {
		cfg.SCTPBuffer = DefaultSCTPBuffer
	}
	// the peer certificate is checked against the SDP fingerprint instead of a CA
	cfg.DTLS = &dtls.Config{
		Certificates:           certs,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: SRTPProfiles(),
		LoggerFactory:          opts.LoggerFactory,
	}
	return cfg, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// SRTPProfiles lists the protection profiles offered during the handshake,
// in order of preference.
func SRTPProfiles() []dtls.SRTPProtectionProfile {
	return []dtls.SRTPProtectionProfile{
		dtls.SRTP_AEAD_AES_128_GCM,
		dtls.SRTP_AES128_CM_HMAC_SHA1_80,
	}
}
