package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindUnsupportedPlatform ErrorKind = "unsupported_platform"
	KindUnsupportedBrowser  ErrorKind = "unsupported_browser"
	KindDeviceNotFound      ErrorKind = "device_not_found"
	KindStorage             ErrorKind = "storage_error"
	KindConnection          ErrorKind = "connection_error"
	KindTestFailure         ErrorKind = "test_failure"
	KindInUse               ErrorKind = "in_use"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind ErrorKind
	// Subject names the offending entity (profile id, browser type, device id).
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = e.Message
	}
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target with a Subject only
// matches that subject.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Subject == "" || t.Subject == e.Subject
}

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
	ErrUnsupportedBrowser  = &Error{Kind: KindUnsupportedBrowser}
	ErrDeviceNotFound      = &Error{Kind: KindDeviceNotFound}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrTestFailure         = &Error{Kind: KindTestFailure}
	ErrInUse               = &Error{Kind: KindInUse}
)

// NewError builds a structured error.
func NewError(kind ErrorKind, subject, message string) *Error {
	return &Error{Kind: kind, Subject: subject, Message: message}
}

// WrapError builds a structured error around a cause. A nil cause yields nil.
func WrapError(err error, kind ErrorKind, subject, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, Message: message, Err: err}
}

// NotFound reports a missing profile, session, archive or path.
func NotFound(what, subject string) *Error {
	return &Error{Kind: KindNotFound, Subject: subject, Message: what + " not found"}
}

// UnsupportedBrowser reports a browser type that has no resolver.
func UnsupportedBrowser(bt BrowserType) *Error {
	return &Error{Kind: KindUnsupportedBrowser, Subject: string(bt), Message: "unsupported browser type"}
}

// UnsupportedPlatform reports a host OS a backend cannot run on.
func UnsupportedPlatform(goos string) *Error {
	return &Error{Kind: KindUnsupportedPlatform, Subject: goos, Message: "unsupported platform"}
}

// IsKind reports whether err, or anything it wraps, has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}
