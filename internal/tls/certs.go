// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package tls loads and generates the client certificates used for mutual
// TLS with upstream APIs.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
)

// CodeLoadFailed marks an unreadable or mismatched certificate pair.
const CodeLoadFailed = "TLS_LOAD_FAILED"

// Kinds returns the certificate error kinds.
func Kinds() []errs.Kind {
	return []errs.Kind{
		{Code: CodeLoadFailed, Description: "client certificate or key could not be loaded"},
	}
}

// KeyPair holds a certificate and its private key.
type KeyPair struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateSelfSigned creates a P-256 client certificate valid for validFor.
func GenerateSelfSigned(commonName string, validFor time.Duration) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "failed to generate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "failed to generate serial")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Leaf"},
			CommonName:   commonName,
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(validFor),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "failed to create certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "failed to parse certificate")
	}
	return &KeyPair{Certificate: cert, PrivateKey: key}, nil
}

// Save writes the pair as PEM files with mode 0600.
func (p *KeyPair) Save(certPath, keyPath string) error {
	keyBytes, err := x509.MarshalECPrivateKey(p.PrivateKey)
	if err != nil {
		return oops.In("tls").Wrapf(err, "failed to marshal key")
	}
	if err := writePEM(certPath, "CERTIFICATE", p.Certificate.Raw); err != nil {
		return err
	}
	return writePEM(keyPath, "EC PRIVATE KEY", keyBytes)
}

// LoadClientConfig loads a PEM certificate pair into a client TLS config.
func LoadClientConfig(certFile, keyFile string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).
			With("cert", certFile).
			With("key", keyFile).
			Wrapf(err, "failed to load client certificate")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).With("cert", certFile).Wrap(err)
	}
	if time.Now().After(leaf.NotAfter) {
		return nil, oops.Code(CodeLoadFailed).
			With("cert", certFile).
			With("not_after", leaf.NotAfter).
			Errorf("client certificate expired")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "failed to create file")
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return oops.In("tls").With("path", path).Wrapf(err, "failed to encode %s", blockType)
	}
	if err := f.Close(); err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "failed to close file")
	}
	return nil
}
