// Package ca manages the per-host deployment certificate authority.
//
// Deployed applications that expose TLS services get their certificates
// issued from a host-scoped CA rather than self-signing in every guest. The
// CA keypair is generated once per host and kept sealed in the context
// store, so re-running a deployment reuses it.
package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/oci-lxc/deployer/pkg/contextstore"
	"github.com/oci-lxc/deployer/pkg/errors"
)

// SecretName is the context-store secret the CA material lives under.
const SecretName = "deployment-ca"

// DefaultValidity is how long a generated CA certificate is good for.
const DefaultValidity = 10 * 365 * 24 * time.Hour

// LeafValidity is how long issued service certificates are good for.
const LeafValidity = 2 * 365 * 24 * time.Hour

// Material is a PEM-encoded certificate and its private key.
type Material struct {
	CertPEM []byte `json:"cert_pem"`
	KeyPEM  []byte `json:"key_pem"`
}

// Generate creates a new self-signed ECDSA P-256 CA.
func Generate(commonName string, validity time.Duration) (*Material, error) {
	if validity == 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to generate CA key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to generate serial number", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to create CA certificate", err)
	}

	return encodeMaterial(der, key)
}

// Ensure loads the host CA from the context store, generating and storing a
// fresh one when it is missing or no longer valid. The second return
// reports whether a new CA was created.
func Ensure(ctx context.Context, cs *contextstore.Store, commonName string) (*Material, bool, error) {
	data, err := cs.GetSecret(ctx, SecretName)
	if err == nil {
		var m Material
		if jsonErr := json.Unmarshal(data, &m); jsonErr == nil {
			if m.Validate() == nil {
				return &m, false, nil
			}
		}
		// Stored material is unreadable or expired; replace it.
	} else if !errors.Is(err, errors.ErrCodeNotFound) {
		return nil, false, err
	}

	m, err := Generate(commonName, DefaultValidity)
	if err != nil {
		return nil, false, err
	}
	if err := Store(ctx, cs, m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Store persists CA material into the context store.
func Store(ctx context.Context, cs *contextstore.Store, m *Material) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCrypto, "failed to encode CA material", err)
	}
	return cs.SetSecret(ctx, SecretName, data)
}

// Load reads CA material from the context store without generating.
func Load(ctx context.Context, cs *contextstore.Store) (*Material, error) {
	data, err := cs.GetSecret(ctx, SecretName)
	if err != nil {
		return nil, err
	}
	var m Material
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to decode CA material", err)
	}
	return &m, nil
}

// Certificate parses the PEM certificate.
func (m *Material) Certificate() (*x509.Certificate, error) {
	block, _ := pem.Decode(m.CertPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New(errors.ErrCodeCrypto, "material does not contain a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to parse certificate", err)
	}
	return cert, nil
}

// Signer parses the PEM private key.
func (m *Material) Signer() (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(m.KeyPEM)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, errors.New(errors.ErrCodeCrypto, "material does not contain an EC private key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to parse private key", err)
	}
	return key, nil
}

// Validate checks that the material parses, the certificate is a CA, it has
// not expired, and the key matches the certificate.
func (m *Material) Validate() error {
	cert, err := m.Certificate()
	if err != nil {
		return err
	}
	key, err := m.Signer()
	if err != nil {
		return err
	}

	if !cert.IsCA {
		return errors.New(errors.ErrCodeCrypto, "certificate is not a CA")
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return errors.New(errors.ErrCodeCrypto, fmt.Sprintf("CA certificate is outside its validity window (%s - %s)",
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339)))
	}

	certKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !certKey.Equal(&key.PublicKey) {
		return errors.New(errors.ErrCodeCrypto, "private key does not match CA certificate")
	}
	return nil
}

// Issue signs a server certificate for a deployed service. DNS names and IP
// addresses both go into the SANs; the first DNS name becomes the subject.
func (m *Material) Issue(dnsNames []string, ips []net.IP) (*Material, error) {
	if len(dnsNames) == 0 && len(ips) == 0 {
		return nil, errors.New(errors.ErrCodeCrypto, "issue requires at least one DNS name or IP")
	}

	caCert, err := m.Certificate()
	if err != nil {
		return nil, err
	}
	caKey, err := m.Signer()
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to generate leaf key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to generate serial number", err)
	}

	commonName := ""
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ips[0].String()
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(LeafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to sign leaf certificate", err)
	}

	return encodeMaterial(der, key)
}

func encodeMaterial(der []byte, key *ecdsa.PrivateKey) (*Material, error) {
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to marshal private key", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return &Material{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}
