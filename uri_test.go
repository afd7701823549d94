package gemini

import (
	"errors"
	"testing"
)

func TestNewRequestPort(t *testing.T) {
	tests := []struct {
		url  string
		port int
		key  string
	}{
		{"gemini://example.com", 1965, "example.com"},
		{"gemini://example.com:1965", 1965, "example.com"},
		{"gemini://example.com/test//", 1965, "example.com"},
		{"gemini://example.com:123", 123, "example.com:123"},
		{"gemini://example.com:123/test//", 123, "example.com:123"},
		{"gemini://0.0.0.0", 1965, "0.0.0.0"},
		{"gemini://0.0.0.0:123/test//", 123, "0.0.0.0:123"},
		{"gemini://[::1]", 1965, "::1"},
		{"gemini://[::1]:123/test//", 123, "::1:123"},
	}

	for _, tc := range tests {
		req, err := NewRequest(tc.url, DefaultOptions())
		if err != nil {
			t.Errorf("unexpected error for %s: %v", tc.url, err)
			continue
		}
		if req.Port != tc.port {
			t.Errorf("Got port %d but expected %d for URL %s", req.Port, tc.port, tc.url)
		}
		if req.TofuKey() != tc.key {
			t.Errorf("Got key %s but expected %s for URL %s", req.TofuKey(), tc.key, tc.url)
		}
	}
}

func TestNewRequestErrors(t *testing.T) {
	tests := []struct {
		url string
		err error
	}{
		{"https://example.com/", ErrNonGeminiURI},
		{"example.com/", ErrNonGeminiURI},
		{"gemini:///nohost", ErrInvalidURI},
		{"gemini://example.com:port/", ErrInvalidURI},
		{"gemini://example.com:99999/", ErrInvalidURI},
		{"gemini://example.com:/", ErrInvalidURI},
		{"gemini://exa mple.com/", ErrInvalidURI},
		{"gemini://%zz/", ErrInvalidURI},
	}

	for _, tc := range tests {
		_, err := NewRequest(tc.url, DefaultOptions())
		if !errors.Is(err, tc.err) {
			t.Errorf("expected %v for %s, got %v", tc.err, tc.url, err)
		}
	}
}

func TestNewRequestString(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"gemini://example.com", "gemini://example.com"},
		{"gemini://example.com/", "gemini://example.com/"},
		{"gemini://example.com:1966/a?b", "gemini://example.com:1966/a?b"},
		{"gemini://example.com/a?", "gemini://example.com/a?"},
		{"gemini://example.com/a#frag", "gemini://example.com/a"},
		{"gemini://[::1]:1966/", "gemini://[::1]:1966/"},
		{"gemini://café.example/thé?été", "gemini://xn--caf-dma.example/th%C3%A9?%C3%A9t%C3%A9"},
	}

	for _, tc := range tests {
		req, err := NewRequest(tc.url, DefaultOptions())
		if err != nil {
			t.Errorf("unexpected error for %s: %v", tc.url, err)
			continue
		}
		if req.String() != tc.expected {
			t.Errorf("Got %s but expected %s", req.String(), tc.expected)
		}
	}
}

func TestNewRequestIDNA(t *testing.T) {
	req, err := NewRequest("gemini://bücher.example/", DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Host != "bücher.example" {
		t.Errorf("expected the Unicode host to be kept, got %s", req.Host)
	}
	if req.ASCIIHost != "xn--bcher-kva.example" {
		t.Errorf("expected punycode host, got %s", req.ASCIIHost)
	}

	opts := DefaultOptions()
	opts.UseIRI = false
	req, err = NewRequest("gemini://bücher.example/", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ASCIIHost != "bücher.example" {
		t.Errorf("expected no conversion without IRI support, got %s", req.ASCIIHost)
	}
}

func TestNewRequestBadIDNA(t *testing.T) {
	_, err := NewRequest("gemini://a_bé.example/", DefaultOptions())
	if !errors.Is(err, ErrInvalidURI) {
		t.Errorf("expected ErrInvalidURI for a host IDNA rejects, got %v", err)
	}
}

func TestIRIToURI(t *testing.T) {
	tests := []struct {
		iri string
		uri string
	}{
		{"gemini://example.com/a", "gemini://example.com/a"},
		{"/relative/é", "/relative/%C3%A9"},
		{"gemini://bücher.example/x", "gemini://xn--bcher-kva.example/x"},
		{"page.gmi?q=ü", "page.gmi?q=%C3%BC"},
	}

	for _, tc := range tests {
		if got := iriToURI(tc.iri); got != tc.uri {
			t.Errorf("iriToURI(%q) = %q, expected %q", tc.iri, got, tc.uri)
		}
	}
}
