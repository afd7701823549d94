package gemini

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxURLLength is the longest URI a request may carry.
const MaxURLLength = 1024

// Client fetches gemini resources. The zero value is ready to use.
//
// A Client performs no timeout of its own: use FetchContext with a
// deadline to bound a fetch.
type Client struct {
	// Logger receives debug records of every attempt. Nil means no logging.
	Logger *zap.Logger
	// Resolver looks up hosts. Nil means net.DefaultResolver.
	Resolver Resolver
	// TrustStore holds pinned keys. Nil means a FileStore in
	// Options.TofuDir, or no TOFU at all when TofuDir is empty.
	TrustStore TrustStore

	// now is overridden in tests.
	now func() time.Time
}

var DefaultClient = &Client{}

// Fetch a resource from a Gemini server with the given URI.
// It assumes port 1965 if no port is specified.
//
// Only input errors are returned as error, wrapping ErrInvalidURI,
// ErrNonGeminiURI or ErrWrongParameters. Everything that goes wrong on the
// network is described by the returned Response.
func (c *Client) Fetch(uri string, opts Options) (*Response, error) {
	return c.FetchContext(context.Background(), uri, opts)
}

// FetchContext is Fetch with a context. Cancelling ctx aborts the
// connection in progress.
func (c *Client) FetchContext(ctx context.Context, uri string, opts Options) (*Response, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ParseLinks {
		opts.FetchBody = true
	}
	if len(uri) > MaxURLLength {
		return nil, fmt.Errorf("%w: url is too long", ErrInvalidURI)
	}
	req, err := NewRequest(uri, opts)
	if err != nil {
		return nil, err
	}

	f, err := c.newFetcher(opts)
	if err != nil {
		return nil, err
	}
	defer f.close()
	return f.fetch(ctx, req, opts, 0), nil
}

// Fetch a resource from a Gemini server with the default client.
func Fetch(uri string, opts Options) (*Response, error) {
	return DefaultClient.Fetch(uri, opts)
}

// fetcher holds what one top-level fetch shares across its redirects and
// retries: the loaded certificates, the trust store and the logger.
type fetcher struct {
	log         *zap.Logger
	resolver    Resolver
	store       TrustStore
	dialer      *net.Dialer
	roots       *x509.CertPool
	clientCerts []tls.Certificate
	keyLog      io.WriteCloser
	now         func() time.Time
}

func (c *Client) newFetcher(opts Options) (*fetcher, error) {
	f := &fetcher{
		log:      c.Logger,
		resolver: c.Resolver,
		store:    c.TrustStore,
		dialer:   &net.Dialer{},
		now:      c.now,
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	if f.resolver == nil {
		f.resolver = net.DefaultResolver
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.store == nil {
		if opts.TofuDir != "" {
			f.store = NewFileStore(opts.TofuDir)
		} else {
			f.store = noStore{}
		}
	}

	if opts.CAFile != "" && !opts.Insecure {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read CA file: %v", ErrWrongParameters, err)
		}
		f.roots = x509.NewCertPool()
		if !f.roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificate in CA file %s", ErrWrongParameters, opts.CAFile)
		}
	}
	if opts.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load client certificate: %v", ErrWrongParameters, err)
		}
		f.clientCerts = []tls.Certificate{cert}
	}

	if keylogfile := os.Getenv("SSLKEYLOGFILE"); keylogfile != "" {
		w, err := os.OpenFile(keylogfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err == nil {
			f.keyLog = w
		}
	}
	return f, nil
}

func (f *fetcher) close() {
	if f.keyLog != nil {
		f.keyLog.Close()
	}
}

// next is what a response asks for once its connection is closed: a
// redirect or a binary retry.
type next struct {
	req      *Request
	opts     Options
	depth    int
	redirect bool
	note     string
}

// fetch performs one attempt. Redirects and charset fallback call it
// again with a fresh Request, after the previous connection is closed.
func (f *fetcher) fetch(ctx context.Context, req *Request, opts Options, depth int) *Response {
	host := req.ASCIIHost
	if opts.ConnectOverrideHost != "" {
		host = opts.ConnectOverrideHost
	}
	f.log.Debug("fetching", zap.String("url", req.String()), zap.String("connect", host), zap.Int("depth", depth))

	cands, err := resolveAddresses(ctx, f.resolver, host, req.Port, opts)
	if err != nil {
		f.log.Debug("resolution failed", zap.String("host", host), zap.Error(err))
		return &Response{URL: req.String(), Error: fmt.Sprintf("Name %s not known or invalid", host)}
	}
	if len(cands) == 0 {
		return &Response{URL: req.String(), Error: "No IP address available"}
	}

	lastErr := ""
	for _, cand := range cands {
		conn, info, err := f.connect(ctx, cand, req, opts)
		if err != nil {
			f.log.Debug("candidate failed", zap.Stringer("addr", cand), zap.Error(err))
			lastErr = err.Error()
			continue
		}
		if err := sendRequest(conn, req); err != nil {
			conn.Close()
			lastErr = err.Error()
			continue
		}

		res, nx := f.exchange(ctx, conn, req, opts, depth)
		conn.Close()
		res.IPAddress = cand.addr.Addr().String()
		res.Cert = info
		if nx == nil {
			return res
		}
		return f.follow(ctx, req, *nx)
	}
	return &Response{URL: req.String(), Error: lastErr}
}

func (f *fetcher) follow(ctx context.Context, from *Request, nx next) *Response {
	res := f.fetch(ctx, nx.req, nx.opts, nx.depth)
	if nx.redirect {
		res.Redirects = append([]string{from.String()}, res.Redirects...)
	}
	if nx.note != "" && res.Error == "" {
		res.Error = nx.note
	}
	return res
}

// exchange reads the response on an established session.
func (f *fetcher) exchange(ctx context.Context, conn net.Conn, req *Request, opts Options, depth int) (*Response, *next) {
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	res := &Response{URL: req.String()}
	w := NewWireReader(conn, opts.MaxBytes)

	status, meta, err := readHeader(w)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Status, res.Meta = status, meta
	res.NetworkSuccess = true
	if !IsStatusValid(status) {
		f.log.Debug("undefined status", zap.String("url", req.String()), zap.String("status", status))
	}

	switch status {
	case StatusSuccess:
		res.MediaType, res.Charset, res.Language = parseMediaType(meta)
		if !opts.wantsBody() {
			return res, nil
		}
		return f.readBody(w, res, req, opts, depth)

	case StatusRedirectTemporary, StatusRedirectPermanent:
		if !opts.FollowRedirects {
			return res, nil
		}
		if depth+1 > opts.redirectLimit() {
			res.NetworkSuccess = false
			res.Error = "Too many redirects"
			return res, nil
		}
		target, err := req.URL().Parse(iriToURI(strings.TrimSpace(meta)))
		if err != nil {
			res.Error = fmt.Sprintf("Invalid redirect target %q: %v", meta, err)
			return res, nil
		}
		nreq, err := requestFromURL(target, opts)
		if err != nil {
			res.Error = fmt.Sprintf("Cannot follow redirect to %s: %v", target, err)
			return res, nil
		}
		nopts := opts
		if nreq.ASCIIHost != req.ASCIIHost {
			// the override only applies to the host it was given for
			nopts.ConnectOverrideHost = ""
		}
		f.log.Debug("following redirect", zap.String("from", req.String()), zap.String("to", nreq.String()))
		return res, &next{req: nreq, opts: nopts, depth: depth + 1, redirect: true}
	}
	return res, nil
}

func (f *fetcher) readBody(w *WireReader, res *Response, req *Request, opts Options, depth int) (*Response, *next) {
	if !opts.ForceBinary && strings.HasPrefix(res.MediaType, "text/") {
		lines, truncated, err := readTextBody(w, res.Charset, opts.MaxLines)
		var cerr *charsetError
		if errors.As(err, &cerr) {
			f.log.Debug("charset fallback", zap.String("url", req.String()), zap.String("reason", cerr.msg))
			retry := opts
			retry.ForceBinary = true
			retry.ParseLinks = false
			return res, &next{req: req, opts: retry, depth: depth, note: cerr.msg}
		}
		if err != nil {
			res.Error = fmt.Sprintf("Error reading body: %v", err)
		}
		res.Body = &Body{Kind: BodyText, Lines: lines}
		res.Truncated = truncated
		if opts.ParseLinks && res.MediaType == "text/gemini" {
			res.Links = ExtractLinks(lines, req.String())
		}
		return res, nil
	}

	data, err := readBinaryBody(w)
	if err != nil {
		res.Error = fmt.Sprintf("Error reading body: %v", err)
	}
	res.Body = &Body{Kind: BodyBinary, Data: data}
	res.Truncated = w.Truncated()
	res.DetectedType = sniffType(data)
	return res, nil
}
