package gemini

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"time"
)

// CertInfo describes the certificate a server presented.
type CertInfo struct {
	Issuer    string
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time
	SigAlgo   string
	KeyType   string
	// KeySize is in bits.
	KeySize int
}

func newCertInfo(c *x509.Certificate) *CertInfo {
	info := &CertInfo{
		Issuer:    c.Issuer.String(),
		Subject:   c.Subject.String(),
		NotBefore: c.NotBefore,
		NotAfter:  c.NotAfter,
		SigAlgo:   c.SignatureAlgorithm.String(),
		KeyType:   c.PublicKeyAlgorithm.String(),
	}
	switch k := c.PublicKey.(type) {
	case *rsa.PublicKey:
		info.KeySize = k.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeySize = k.Curve.Params().BitSize
	case ed25519.PublicKey:
		info.KeySize = len(k) * 8
	}
	return info
}

// PublicKeyDigest is the value pinned for a certificate: the base64
// SHA-256 of its DER SubjectPublicKeyInfo. Renewing a certificate with
// the same key keeps the digest.
func PublicKeyDigest(c *x509.Certificate) string {
	sum := sha256.Sum256(c.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}
