package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a description failure.
type Kind int

const (
	KindUnknownProvider Kind = iota + 1
	KindSetupIncomplete
	KindTransport
	KindRemote
	KindMalformedResponse
	KindTranslationFailed
	// KindImage means the image could not be read, fetched or downscaled.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindUnknownProvider:
		return "unknown-provider"
	case KindSetupIncomplete:
		return "setup-incomplete"
	case KindTransport:
		return "transport-error"
	case KindRemote:
		return "remote-error"
	case KindMalformedResponse:
		return "malformed-response"
	case KindTranslationFailed:
		return "translation-failed"
	case KindImage:
		return "image-unavailable"
	}
	return "unknown"
}

// Error is the only error type that leaves a Provider or the orchestrator.
type Error struct {
	Kind     Kind
	Provider string
	Title    string
	Status   int
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("autoalter")
	if e.Provider != "" {
		b.WriteString(": ")
		b.WriteString(e.Provider)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err as a warning suitable for direct display to an
// editor.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if err == nil {
			return ""
		}
		return "Alternative text could not be generated."
	}
	name := e.Title
	if name == "" {
		name = e.Provider
	}
	switch e.Kind {
	case KindUnknownProvider:
		return fmt.Sprintf("The configured alt text service %q is not available. Please check the Automatic Alternative Text settings.", e.Provider)
	case KindSetupIncomplete:
		return fmt.Sprintf("The %s service is not fully configured. Please check the API key and settings.", name)
	case KindTransport:
		return fmt.Sprintf("The %s service could not be reached: %s", name, cause(e))
	case KindRemote:
		return fmt.Sprintf("The %s service returned an error: %s", name, cause(e))
	case KindMalformedResponse:
		return fmt.Sprintf("The %s service returned an empty response.", name)
	case KindTranslationFailed:
		return "The generated alternative text could not be translated."
	case KindImage:
		return fmt.Sprintf("The image could not be prepared for the %s service: %s", name, cause(e))
	}
	return "Alternative text could not be generated."
}

func cause(e *Error) string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	case e.Status != 0:
		return fmt.Sprintf("status %d", e.Status)
	}
	return "unknown error"
}
