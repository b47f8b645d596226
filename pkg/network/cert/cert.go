package cert

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// DNSNamePrefix is prepended to the encoded public key in the certificate DNS name.
	DNSNamePrefix = "d"

	// DefaultValidity is used when Config.Validity is zero.
	DefaultValidity = 24 * time.Hour

	dnsNameLength = 53
)

var (
	ErrUnsupportedKey  = errors.New("certificate public key is not ed25519")
	ErrInvalidDNSName  = errors.New("invalid certificate dns name")
	ErrExpired         = errors.New("certificate outside validity period")
	ErrUnexpectedPeer  = errors.New("certificate key does not match pinned key")
	ErrMissingKey      = errors.New("private key required")
	ErrInvalidSigAlgo  = errors.New("invalid signature algorithm: expected ed25519")
	ErrNoDNSName       = errors.New("certificate must have exactly one dns name")
	ErrCertificateLeaf = errors.New("certificate leaf missing")
)

// base32Encoding is the lowercase alphabet used for DNS-safe key encoding.
var base32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Config holds the parameters for certificate generation.
type Config struct {
	PrivateKey ed25519.PrivateKey
	Validity   time.Duration
}

// Generator creates self-signed ed25519 certificates whose DNS name encodes the key.
type Generator struct {
	config Config
}

func NewGenerator(config Config) (*Generator, error) {
	if len(config.PrivateKey) != ed25519.PrivateKeySize {
		return nil, ErrMissingKey
	}
	if config.Validity == 0 {
		config.Validity = DefaultValidity
	}
	return &Generator{config: config}, nil
}

// NewEphemeral generates a fresh key pair and a certificate for it.
// Dispersal clients identify themselves by their signing key, not by the
// transport key, so a throwaway identity per process is enough.
func NewEphemeral(validity time.Duration) (*tls.Certificate, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate transport key: %w", err)
	}
	gen, err := NewGenerator(Config{PrivateKey: priv, Validity: validity})
	if err != nil {
		return nil, err
	}
	return gen.GenerateCertificate()
}

// EncodePubKeyToDNS encodes an ed25519 public key as "d" + base32(key).
func EncodePubKeyToDNS(pubKey ed25519.PublicKey) string {
	return DNSNamePrefix + base32Encoding.EncodeToString(pubKey)
}

// GenerateCertificate creates a certificate usable for both server and client auth.
func (g *Generator) GenerateCertificate() (*tls.Certificate, error) {
	pub := g.config.PrivateKey.Public().(ed25519.PublicKey)
	dnsName := EncodePubKeyToDNS(pub)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: dnsName},
		DNSNames:     []string{dnsName},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(g.config.Validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		SignatureAlgorithm:    x509.PureEd25519,
		PublicKeyAlgorithm:    x509.Ed25519,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, g.config.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  g.config.PrivateKey,
		Leaf:        leaf,
	}, nil
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithPinnedKey makes the validator accept only certificates for key.
func WithPinnedKey(key ed25519.PublicKey) ValidatorOption {
	return func(v *Validator) {
		v.pinned = key
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator checks peer certificates. It satisfies transport.CertValidator.
type Validator struct {
	pinned ed25519.PublicKey
	now    func() time.Time
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateCertificate requires an ed25519 signature, a single DNS name that
// encodes the certificate key, and a current validity window.
func (v *Validator) ValidateCertificate(cert *x509.Certificate) error {
	if cert == nil {
		return ErrCertificateLeaf
	}
	if cert.SignatureAlgorithm != x509.PureEd25519 {
		return ErrInvalidSigAlgo
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return ErrUnsupportedKey
	}
	if len(cert.DNSNames) != 1 {
		return ErrNoDNSName
	}
	name := cert.DNSNames[0]
	if len(name) != dnsNameLength || !strings.HasPrefix(name, DNSNamePrefix) {
		return fmt.Errorf("%w: %s", ErrInvalidDNSName, name)
	}
	if name != EncodePubKeyToDNS(pub) {
		return fmt.Errorf("%w: does not match public key", ErrInvalidDNSName)
	}

	now := v.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return ErrExpired
	}
	if v.pinned != nil && !bytes.Equal(v.pinned, pub) {
		return ErrUnexpectedPeer
	}
	return nil
}

// ExtractPublicKey returns the ed25519 key carried by cert.
func (v *Validator) ExtractPublicKey(cert *x509.Certificate) (ed25519.PublicKey, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return pub, nil
}
