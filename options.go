package gemini

import "fmt"

// Options controls a single fetch. It is passed by value and never
// modified by the client; redirects and charset fallback work on copies.
type Options struct {
	// Insecure skips the hostname and CA checks and accepts any certificate.
	Insecure bool `yaml:"insecure"`
	// FetchBody reads the body of successful responses.
	FetchBody bool `yaml:"fetch_body"`
	// ParseLinks extracts links from text/gemini bodies. It implies FetchBody.
	ParseLinks bool `yaml:"parse_links"`
	// MaxLines caps the number of lines read from a text body. 0 is unlimited.
	MaxLines int `yaml:"max_lines"`
	// MaxBytes caps the size of a binary body. 0 is unlimited.
	MaxBytes int64 `yaml:"max_bytes"`
	// ForceBinary reads every body as bytes, without charset decoding.
	ForceBinary bool `yaml:"force_binary"`
	// FollowRedirects follows 30 and 31 responses.
	FollowRedirects bool `yaml:"follow_redirects"`
	// UseIRI converts Unicode hostnames with IDNA and percent-encodes
	// non-ASCII path and query bytes.
	UseIRI bool `yaml:"use_iri"`
	// TofuDir is where pinned public keys are kept. Empty disables TOFU.
	TofuDir string `yaml:"tofu_dir"`
	// MaxRedirectDepth is the longest redirect chain followed.
	// Zero or less means DefaultMaxRedirectDepth.
	MaxRedirectDepth int  `yaml:"max_redirect_depth"`
	ForceIPv4        bool `yaml:"force_ipv4"`
	ForceIPv6        bool `yaml:"force_ipv6"`
	// SendSNI sends the ASCII hostname as TLS server name.
	SendSNI bool `yaml:"send_sni"`
	// ConnectOverrideHost makes the client connect to another host while
	// the certificate and SNI are still checked against the URI host.
	ConnectOverrideHost string `yaml:"connect_override_host"`
	// AcceptExpiredCert allows certificates that are expired or not yet valid.
	AcceptExpiredCert bool `yaml:"accept_expired_cert"`
	// CAFile is a PEM bundle. When set, and Insecure is not, the server
	// chain must also verify against it.
	CAFile string `yaml:"ca_file"`
	// ClientCertFile and ClientKeyFile are a PEM client certificate and key
	// presented during the handshake.
	ClientCertFile string `yaml:"client_cert_file"`
	ClientKeyFile  string `yaml:"client_key_file"`
}

// DefaultOptions returns the options most callers want: fetch the body,
// send SNI, handle IRIs, and cap redirect depth at DefaultMaxRedirectDepth.
func DefaultOptions() Options {
	return Options{
		FetchBody:        true,
		UseIRI:           true,
		SendSNI:          true,
		MaxRedirectDepth: DefaultMaxRedirectDepth,
	}
}

// Validate reports combinations of options that cannot work together.
// The returned error wraps ErrWrongParameters.
func (o Options) Validate() error {
	switch {
	case o.ForceIPv4 && o.ForceIPv6:
		return fmt.Errorf("%w: cannot force both IPv4 and IPv6", ErrWrongParameters)
	case o.ForceBinary && o.ParseLinks:
		return fmt.Errorf("%w: cannot parse links of a forced binary body", ErrWrongParameters)
	case o.MaxLines < 0:
		return fmt.Errorf("%w: negative max lines", ErrWrongParameters)
	case o.MaxBytes < 0:
		return fmt.Errorf("%w: negative max bytes", ErrWrongParameters)
	case (o.ClientCertFile == "") != (o.ClientKeyFile == ""):
		return fmt.Errorf("%w: client certificate and key go together", ErrWrongParameters)
	}
	return nil
}

func (o Options) redirectLimit() int {
	if o.MaxRedirectDepth <= 0 {
		return DefaultMaxRedirectDepth
	}
	return o.MaxRedirectDepth
}

func (o Options) wantsBody() bool {
	return o.FetchBody || o.ParseLinks
}

func (o Options) network() string {
	switch {
	case o.ForceIPv4:
		return "ip4"
	case o.ForceIPv6:
		return "ip6"
	}
	return "ip"
}
