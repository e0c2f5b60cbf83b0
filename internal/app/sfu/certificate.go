package sfu

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Fingerprint is an SDP a=fingerprint value.
type Fingerprint struct {
	Algorithm string
	Value     string
}

func (f Fingerprint) String() string { return f.Algorithm + " " + f.Value }

// GenerateCertificate creates a self-signed ECDSA P-256 certificate.
func GenerateCertificate() (tls.Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("sfu: generate certificate: %w", err)
	}
	return cert, nil
}

// Fingerprints computes the sha-256 fingerprint of the leaf of every certificate.
func Fingerprints(certs []tls.Certificate) ([]Fingerprint, error) {
	out := make([]Fingerprint, 0, len(certs))
	for _, c := range certs {
		if len(c.Certificate) == 0 {
			return nil, ErrNoCertificate
		}
		leaf, err := x509.ParseCertificate(c.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("sfu: parse certificate: %w", err)
		}
		value, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("sfu: fingerprint: %w", err)
		}
		out = append(out, Fingerprint{Algorithm: "sha-256", Value: value})
	}
	return out, nil
}

// ParseFingerprint splits "sha-256 AB:CD:..." into its parts.
func ParseFingerprint(attr string) (Fingerprint, error) {
	algo, value, ok := strings.Cut(strings.TrimSpace(attr), " ")
	if !ok || value == "" {
		return Fingerprint{}, fmt.Errorf("%w: %q", ErrMissingFinger, attr)
	}
	if _, err := fingerprint.HashFromString(strings.ToLower(algo)); err != nil {
		return Fingerprint{}, fmt.Errorf("sfu: fingerprint algorithm %q: %w", algo, err)
	}
	return Fingerprint{Algorithm: strings.ToLower(algo), Value: strings.TrimSpace(value)}, nil
}

// Verify checks that one of the DER certificates matches f.
func (f Fingerprint) Verify(rawCerts [][]byte) error {
	hash, err := fingerprint.HashFromString(strings.ToLower(f.Algorithm))
	if err != nil {
		return err
	}
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		got, err := fingerprint.Fingerprint(cert, hash)
		if err != nil {
			continue
		}
		if strings.EqualFold(got, f.Value) {
			return nil
		}
	}
	return ErrFingerprint
}
