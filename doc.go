// Package gemini is a client for the Gemini protocol.
//
// Fetch resolves a gemini:// URI, tries each address of the host in turn,
// sends the request and parses the response, optionally reading the body,
// following redirects and extracting the links of text/gemini pages:
//
//	res, err := gemini.Fetch("gemini://example.com/", gemini.DefaultOptions())
//	if err != nil {
//		// the URI or the options are wrong
//	}
//	if !res.NetworkSuccess {
//		// res.Error says what happened
//	}
//
// Certificates are trusted on first use: when Options.TofuDir is set, the
// digest of the server public key is pinned on the first successful
// handshake and later connections presenting another key are refused.
// Self-signed certificates are the norm in Geminispace, so no CA is needed
// unless Options.CAFile asks for one.
//
// It will automatically handle URLs that have IDNs in them, ie domains with Unicode.
// It will convert to punycode for DNS and for sending to the server, but accept
// certs with either punycode or Unicode as the hostname.
package gemini
