package ses

import (
	"errors"
	"fmt"
)

// Kind classifies a failed SES call.
type Kind int

const (
	KindUnknown Kind = iota
	KindCredentialsMissing
	KindRegionInvalid
	KindAPIError
	KindParseError
)

// Code returns the stable wire code used in outcome log lines.
func (k Kind) Code() string {
	switch k {
	case KindCredentialsMissing:
		return "ses_creds_missing"
	case KindRegionInvalid:
		return "ses_region_invalid"
	case KindAPIError:
		return "ses_api_error"
	case KindParseError:
		return "ses_parse_error"
	default:
		return "ses_unknown"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is the failure variant of an SES call.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 when no response was received
	Body   string // response body, if any
	Err    error  // underlying cause, if any
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindCredentialsMissing:
		msg = "SES credentials missing."
	case KindRegionInvalid:
		msg = "SES region missing or invalid."
	case KindAPIError:
		msg = fmt.Sprintf("SES API error (HTTP %d)", e.Status)
	case KindParseError:
		msg = "Unable to parse SES response."
	default:
		msg = "SES request failed"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the wire code for err: the Kind code for *Error, an explicit
// code for errors implementing Code() string, else "ses_unknown".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind.Code()
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return KindUnknown.Code()
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}

// LooksMisconfigured reports failures that usually mean wrong keys or a
// region that does not match the SES setup.
func LooksMisconfigured(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindCredentialsMissing, KindRegionInvalid:
		return true
	case KindAPIError:
		return se.Status == 403
	}
	return false
}
