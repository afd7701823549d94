package gemini

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// connect dials one candidate, performs the handshake and decides whether
// the server certificate is trusted. Every error it returns is a reason to
// try the next candidate.
func (f *fetcher) connect(ctx context.Context, cand candidate, req *Request, opts Options) (*tls.Conn, *CertInfo, error) {
	log := f.log.With(zap.String("addr", cand.String()), zap.String("host", req.ASCIIHost))

	raw, err := f.dialer.DialContext(ctx, cand.network, cand.addr.String())
	if err != nil {
		return nil, nil, fmt.Errorf("Cannot connect to %s: %v", cand, err)
	}

	conf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // This must be set to allow self-signed certs
		Certificates:       f.clientCerts,
		KeyLogWriter:       f.keyLog,
	}
	if opts.SendSNI && net.ParseIP(req.ASCIIHost) == nil {
		conf.ServerName = req.ASCIIHost
	}

	conn := tls.Client(raw, conf)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("TLS handshake error with %s: %v", cand, err)
	}
	log.Debug("handshake done", zap.Uint16("version", conn.ConnectionState().Version))

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		conn.Close()
		return nil, nil, fmt.Errorf("No certificate presented by %s", cand)
	}
	cert := certs[0]
	info := newCertInfo(cert)

	if err := f.checkCert(certs, req, opts); err != nil {
		conn.Close()
		return nil, info, err
	}
	return conn, info, nil
}

// checkCert applies, in order, the CA, hostname, validity period and TOFU
// checks enabled by opts.
func (f *fetcher) checkCert(certs []*x509.Certificate, req *Request, opts Options) error {
	cert := certs[0]
	now := f.now()

	if !opts.Insecure {
		if f.roots != nil {
			if err := verifyChain(certs, f.roots, now, opts.AcceptExpiredCert); err != nil {
				return fmt.Errorf("Certificate chain not trusted: %v", err)
			}
		}
		if err := verifyCertHostname(cert, req.ASCIIHost); err != nil {
			return fmt.Errorf("Hostname mismatch: %v", err)
		}
	}

	if !opts.AcceptExpiredCert {
		if cert.NotBefore.After(now) {
			return fmt.Errorf("Certificate not yet valid (starts %s)", cert.NotBefore.Format(time.RFC3339))
		} else if cert.NotAfter.Before(now) {
			return fmt.Errorf("Certificate expired (on %s)", cert.NotAfter.Format(time.RFC3339))
		}
	}

	digest := PublicKeyDigest(cert)
	if err := f.store.RecordOrCompare(req.TofuKey(), digest); err != nil {
		var mismatch *MismatchError
		if errors.As(err, &mismatch) {
			f.log.Warn("public key changed",
				zap.String("key", mismatch.Key),
				zap.String("old", mismatch.Old),
				zap.String("new", mismatch.New))
			return fmt.Errorf("TOFU check failed: %v", mismatch)
		}
		return fmt.Errorf("TOFU store error: %v", err)
	}
	return nil
}

// verifyChain checks the chain against roots. Expired chains are checked
// at the leaf expiry time when they are accepted anyway.
func verifyChain(certs []*x509.Certificate, roots *x509.CertPool, now time.Time, acceptExpired bool) error {
	inter := x509.NewCertPool()
	for _, c := range certs[1:] {
		inter.AddCert(c)
	}
	vo := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   now,
	}
	if acceptExpired {
		vo.CurrentTime = certs[0].NotAfter
	}
	_, err := certs[0].Verify(vo)
	return err
}

func sendRequest(conn net.Conn, req *Request) error {
	_, err := fmt.Fprintf(conn, "%s\r\n", req.String())
	if err != nil {
		return fmt.Errorf("could not send request to the server: %v", err)
	}
	return nil
}
