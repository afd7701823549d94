// Package geminitest provides an in-process Gemini server for tests, with
// generated self-signed certificates that can be swapped at runtime.
package geminitest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Request contains the data of the client request
type Request struct {
	URL string
}

// Handler is the interface a struct need to implement to be able to handle Gemini requests.
// It writes the raw response, header included, so malformed responses can be produced.
type Handler interface {
	Handle(w io.Writer, r Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w io.Writer, r Request)

func (f HandlerFunc) Handle(w io.Writer, r Request) { f(w, r) }

// Respond returns a handler answering every request with the given
// status, meta and body.
func Respond(status, meta, body string) Handler {
	return HandlerFunc(func(w io.Writer, r Request) {
		WriteResponse(w, status, meta, body)
	})
}

// Raw returns a handler writing data as is.
func Raw(data []byte) Handler {
	return HandlerFunc(func(w io.Writer, r Request) {
		w.Write(data)
	})
}

// WriteResponse writes a header line and a body.
func WriteResponse(w io.Writer, status, meta, body string) error {
	_, err := fmt.Fprintf(w, "%s %s\r\n", status, meta)
	if err != nil {
		return fmt.Errorf("failed to write header line to the client: %v", err)
	}
	if body == "" {
		return nil
	}
	_, err = io.WriteString(w, body)
	if err != nil {
		return fmt.Errorf("failed to write the response body to the client: %v", err)
	}
	return nil
}

// Server is a Gemini server listening on the loopback interface.
type Server struct {
	// Port is the port the server listens on.
	Port int

	listener net.Listener
	handler  Handler
	cert     atomic.Pointer[tls.Certificate]
	wg       sync.WaitGroup

	mu       sync.Mutex
	requests []string
}

// NewServer starts a server with a fresh certificate for "localhost",
// 127.0.0.1 and ::1, valid from an hour ago for a day.
func NewServer(handler Handler) (*Server, error) {
	cert, err := NewCertificate([]string{"localhost", "127.0.0.1", "::1"}, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return NewServerWithCertificate(handler, cert)
}

// NewServerWithCertificate starts a server presenting cert.
func NewServerWithCertificate(handler Handler, cert tls.Certificate) (*Server, error) {
	s := &Server{handler: handler}
	s.cert.Store(&cert)
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return s.cert.Load(), nil
		},
		ClientAuth: tls.RequestClientCert,
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	s.listener = ln
	s.Port = ln.Addr().(*net.TCPAddr).Port

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// URL returns the gemini URL of path on this server, using host "localhost".
func (s *Server) URL(path string) string {
	return fmt.Sprintf("gemini://localhost:%d%s", s.Port, path)
}

// SetCertificate changes the certificate presented to new connections.
func (s *Server) SetCertificate(cert tls.Certificate) {
	s.cert.Store(&cert)
}

// Certificate returns the leaf certificate currently presented.
func (s *Server) Certificate() *x509.Certificate {
	return s.cert.Load().Leaf
}

// Requests returns the request lines received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Close stops the server and waits for running handlers.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close the listener: %v", err)
	}
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	requestURL, err := getRequestURL(conn)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, requestURL)
	s.mu.Unlock()

	s.handler.Handle(conn, Request{URL: requestURL})
}

func getRequestURL(conn io.Reader) (string, error) {
	scanner := bufio.NewScanner(conn)
	if ok := scanner.Scan(); !ok {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	rawURL := strings.TrimSuffix(scanner.Text(), "\r")
	if strings.Contains(rawURL, "://") {
		return rawURL, nil
	}
	return fmt.Sprintf("gemini://%s", rawURL), nil
}

// NewCertificate generates a self-signed ECDSA certificate for hosts,
// which may be names or IP addresses.
func NewCertificate(hosts []string, notBefore, notAfter time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if len(hosts) > 0 {
		tmpl.Subject = pkix.Name{CommonName: hosts[0]}
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}
