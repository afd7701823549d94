// Source: https://git.sr.ht/~adnano/go-gemini/tree/f6b0443a6262d17f90b4e75cf5ae37577db7f897/vendor.go

// Hostname matching adapted from the crypto/x509 package, allowing the
// Common Name when a certificate has no SANs, which is still common among
// self-signed Gemini certificates.

// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-GO file.

package gemini

import (
	"crypto/x509"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

var oidExtensionSubjectAltName = []int{2, 5, 29, 17}

// verifyCertHostname checks cert against the ASCII host. Names in the
// certificate may be written in punycode or in Unicode, so both forms of
// the host are tried.
func verifyCertHostname(cert *x509.Certificate, asciiHost string) error {
	if verifyHostname(cert, asciiHost) == nil {
		return nil
	}
	if uni, err := idna.Lookup.ToUnicode(asciiHost); err == nil && uni != asciiHost {
		if verifyHostname(cert, uni) == nil {
			return nil
		}
	}
	// Some names only become comparable once the certificate side is
	// converted too, such as a Unicode CN against an ASCII host.
	for _, name := range certNames(cert) {
		if ascii, err := idna.Lookup.ToASCII(name); err == nil && matchName(ascii, asciiHost) {
			return nil
		}
	}
	return fmt.Errorf("certificate is not valid for %s (names: %s)", asciiHost, strings.Join(certNames(cert), ", "))
}

func certNames(c *x509.Certificate) []string {
	if len(c.DNSNames) > 0 {
		return c.DNSNames
	}
	if c.Subject.CommonName != "" {
		return []string{c.Subject.CommonName}
	}
	return nil
}

func hasSANExtension(c *x509.Certificate) bool {
	for _, e := range c.Extensions {
		if e.Id.Equal(oidExtensionSubjectAltName) {
			return true
		}
	}
	return false
}

// validHostname reports whether host is a valid hostname that can be matched or
// matched against according to RFC 6125 2.2, with some leniency to accommodate
// legacy values.
func validHostname(host string, isPattern bool) bool {
	if !isPattern {
		host = strings.TrimSuffix(host, ".")
	}
	if len(host) == 0 {
		return false
	}

	for i, part := range strings.Split(host, ".") {
		if part == "" {
			return false
		}
		if isPattern && i == 0 && part == "*" {
			// Only full left-most wildcards are matched.
			continue
		}
		for j, c := range part {
			switch {
			case 'a' <= c && c <= 'z', '0' <= c && c <= '9', 'A' <= c && c <= 'Z':
			case c == '-' && j != 0:
			case c == '_':
				// Not valid in hostnames, but found outside the WebPKI.
			default:
				return false
			}
		}
	}
	return true
}

func matchExactly(hostA, hostB string) bool {
	if hostA == "" || hostA == "." || hostB == "" || hostB == "." {
		return false
	}
	return toLowerCaseASCII(hostA) == toLowerCaseASCII(hostB)
}

func matchHostnames(pattern, host string) bool {
	pattern = toLowerCaseASCII(pattern)
	host = toLowerCaseASCII(strings.TrimSuffix(host, "."))

	if len(pattern) == 0 || len(host) == 0 {
		return false
	}

	patternParts := strings.Split(pattern, ".")
	hostParts := strings.Split(host, ".")
	if len(patternParts) != len(hostParts) {
		return false
	}
	for i, patternPart := range patternParts {
		if i == 0 && patternPart == "*" {
			continue
		}
		if patternPart != hostParts[i] {
			return false
		}
	}
	return true
}

// matchName applies wildcard matching to valid hostnames and exact
// matching to anything else.
func matchName(pattern, host string) bool {
	if validHostname(host, false) && validHostname(pattern, true) {
		return matchHostnames(pattern, host)
	}
	return matchExactly(pattern, host)
}

// toLowerCaseASCII returns a lower-case version of in. See RFC 6125 6.4.1. We use
// an explicitly ASCII function to avoid any sharp corners resulting from
// performing Unicode operations on DNS labels.
func toLowerCaseASCII(in string) string {
	out := []byte(in)
	for i, c := range out {
		if 'A' <= c && c <= 'Z' {
			out[i] += 'a' - 'A'
		}
	}
	return string(out)
}

// verifyHostname returns nil if c is a valid certificate for the named host.
//
// IP addresses can be optionally enclosed in square brackets and are checked
// against the IPAddresses field. Other names are checked case insensitively
// against the DNSNames field, or the Common Name when there are no SANs.
func verifyHostname(c *x509.Certificate, h string) error {
	candidateIP := h
	if len(h) >= 3 && h[0] == '[' && h[len(h)-1] == ']' {
		candidateIP = h[1 : len(h)-1]
	}
	if ip := net.ParseIP(candidateIP); ip != nil {
		// Only IP SANs, see RFC 6125, Appendix B.2.
		for _, candidate := range c.IPAddresses {
			if ip.Equal(candidate) {
				return nil
			}
		}
		return x509.HostnameError{Certificate: c, Host: candidateIP}
	}

	names := c.DNSNames
	if !hasSANExtension(c) && c.Subject.CommonName != "" {
		names = []string{c.Subject.CommonName}
	}

	candidateName := toLowerCaseASCII(h)
	for _, match := range names {
		if matchName(match, candidateName) {
			return nil
		}
	}
	return x509.HostnameError{Certificate: c, Host: h}
}
