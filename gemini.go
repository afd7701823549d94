package gemini

import "errors"

// DefaultPort is used when a gemini URI has no port.
const DefaultPort = 1965

// DefaultMaxRedirectDepth is the number of redirects followed when
// Options.MaxRedirectDepth is not set.
const DefaultMaxRedirectDepth = 4

// MetaMaxLength is the longest meta string a server may send.
const MetaMaxLength = 1024

// Gemini status codes as defined in Appendix 1 of the protocol document.
// They are kept as the two-digit strings found on the wire.
const (
	StatusInput          = "10"
	StatusSensitiveInput = "11"

	StatusSuccess = "20"

	StatusRedirectTemporary = "30"
	StatusRedirectPermanent = "31"

	StatusTemporaryFailure = "40"
	StatusUnavailable      = "41"
	StatusCGIError         = "42"
	StatusProxyError       = "43"
	StatusSlowDown         = "44"

	StatusPermanentFailure    = "50"
	StatusNotFound            = "51"
	StatusGone                = "52"
	StatusProxyRequestRefused = "53"
	StatusBadRequest          = "59"

	StatusClientCertificateRequired = "60"
	StatusCertificateNotAuthorised  = "61"
	StatusCertificateNotValid       = "62"
)

var validStatuses = map[string]bool{
	StatusInput: true, StatusSensitiveInput: true,
	StatusSuccess:           true,
	StatusRedirectTemporary: true, StatusRedirectPermanent: true,
	StatusTemporaryFailure: true, StatusUnavailable: true, StatusCGIError: true,
	StatusProxyError: true, StatusSlowDown: true,
	StatusPermanentFailure: true, StatusNotFound: true, StatusGone: true,
	StatusProxyRequestRefused: true, StatusBadRequest: true,
	StatusClientCertificateRequired: true, StatusCertificateNotAuthorised: true,
	StatusCertificateNotValid: true,
}

// Input errors. They are returned before any network I/O happens.
var (
	ErrInvalidURI      = errors.New("invalid URI")
	ErrNonGeminiURI    = errors.New("not a gemini URI")
	ErrWrongParameters = errors.New("wrong parameters")
)

// SimplifyStatus simplify the response status by omiting the detailed second digit of the status code.
func SimplifyStatus(status string) string {
	if len(status) != 2 {
		return status
	}
	return status[:1] + "0"
}

// IsStatusValid checks whether a status is one the protocol defines.
func IsStatusValid(status string) bool {
	return validStatuses[status]
}

func isTwoDigits(s string) bool {
	return len(s) >= 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}
