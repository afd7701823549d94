package gemini

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Request is a validated gemini URI, ready to be sent.
type Request struct {
	Scheme string
	// Host is the hostname as written in the URI.
	Host string
	// ASCIIHost is Host after IDNA conversion. It is what gets resolved,
	// sent as SNI and checked against the certificate.
	ASCIIHost string
	Port      int
	// ExplicitPort is set when the URI carried a port.
	ExplicitPort bool
	// Path and Query are in their escaped, wire form.
	Path  string
	Query string
	// HasQuery distinguishes "?" from no query at all.
	HasQuery bool
}

// NewRequest parses and validates rawURI. Errors wrap ErrInvalidURI or
// ErrNonGeminiURI.
func NewRequest(rawURI string, opts Options) (*Request, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return requestFromURL(u, opts)
}

func requestFromURL(u *url.URL, opts Options) (*Request, error) {
	if u.Scheme != "gemini" {
		return nil, fmt.Errorf("%w: scheme %q", ErrNonGeminiURI, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrInvalidURI, u.String())
	}

	req := &Request{
		Scheme:    "gemini",
		Host:      host,
		ASCIIHost: host,
		Port:      DefaultPort,
		Query:     u.RawQuery,
		HasQuery:  u.ForceQuery || u.RawQuery != "",
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURI, p)
		}
		req.Port = port
		req.ExplicitPort = true
	} else if strings.HasSuffix(u.Host, ":") {
		// "gemini://host:/" is accepted by net/url but has no usable port
		return nil, fmt.Errorf("%w: empty port", ErrInvalidURI)
	}

	if opts.UseIRI && hasNonASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot encode host %q: %v", ErrInvalidURI, host, err)
		}
		req.ASCIIHost = ascii
	}

	req.Path = u.EscapedPath()
	if opts.UseIRI {
		req.Query = escapeNonASCII(req.Query)
	}
	return req, nil
}

// hostPort renders the host part of the URI, with brackets for IPv6.
func (r *Request) hostPort() string {
	host := r.ASCIIHost
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if r.ExplicitPort {
		host += ":" + strconv.Itoa(r.Port)
	}
	return host
}

// String renders the absolute URI sent to the server, without fragment.
func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.Scheme)
	b.WriteString("://")
	b.WriteString(r.hostPort())
	b.WriteString(r.Path)
	if r.HasQuery {
		b.WriteByte('?')
		b.WriteString(r.Query)
	}
	return b.String()
}

// URL returns the request as a parsed URL, used as a base for links and
// redirects.
func (r *Request) URL() *url.URL {
	u, err := url.Parse(r.String())
	if err != nil {
		// String only emits what NewRequest accepted
		return &url.URL{Scheme: r.Scheme, Host: r.hostPort(), Path: r.Path}
	}
	return u
}

// TofuKey is the name a pinned key is stored under: the host, followed by
// the port when it is not the default one.
func (r *Request) TofuKey() string {
	if r.Port == DefaultPort {
		return r.ASCIIHost
	}
	return r.ASCIIHost + ":" + strconv.Itoa(r.Port)
}

// escapeNonASCII percent-encodes bytes outside printable ASCII, turning an
// IRI component into a URI one. Existing escapes are left alone.
func escapeNonASCII(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f {
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// iriToURI converts an IRI reference to its URI form: IDNA for the host,
// percent-encoding for the rest. When the host cannot be encoded, the
// reference is returned with only the escaping applied.
func iriToURI(ref string) string {
	if !hasNonASCII(ref) {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return escapeNonASCII(ref)
	}
	if host := u.Hostname(); host != "" && hasNonASCII(host) {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			if p := u.Port(); p != "" {
				u.Host = ascii + ":" + p
			} else {
				u.Host = ascii
			}
		}
	}
	// String escapes non-ASCII path and fragment bytes itself
	u.RawQuery = escapeNonASCII(u.RawQuery)
	return u.String()
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}
