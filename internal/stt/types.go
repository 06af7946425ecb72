// Package stt defines the shared recognition vocabulary: session modes,
// result and error variants, and the recognizer contract implemented by
// streaming speech-to-text providers.
package stt

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the session lifetime policy at start.
type Mode string

const (
	// ModePushToTalk runs one unbounded utterance per explicit activation.
	ModePushToTalk Mode = "push-to-talk"
	// ModeContinuous runs multi-utterance dictation bounded by a maximum duration.
	ModeContinuous Mode = "continuous"
)

// ResultKind tags a recognition result as provisional or settled.
type ResultKind string

const (
	KindInterim ResultKind = "interim"
	KindFinal   ResultKind = "final"
)

// Result is one recognition event relayed to subscribers.
//
// Interim results carry raw provisional text. Final results carry trimmed
// text and a confidence score.
type Result struct {
	Kind       ResultKind
	Text       string
	Confidence float64
	At         time.Time
}

// Interim builds a provisional result stamped now.
func Interim(text string) Result {
	return Result{Kind: KindInterim, Text: text, At: time.Now()}
}

// Final builds a settled result with trimmed text stamped now.
func Final(text string, confidence float64) Result {
	return Result{Kind: KindFinal, Text: strings.TrimSpace(text), Confidence: confidence, At: time.Now()}
}

// ErrorKind is the fixed failure taxonomy surfaced to error subscribers.
type ErrorKind string

const (
	// KindMicrophoneUnavailable means no capture device was detected, or the
	// device refused to open.
	KindMicrophoneUnavailable ErrorKind = "microphone_unavailable"
	// KindPermissionDenied means platform microphone permission was refused.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindAuthentication means the service rejected the configured credential.
	KindAuthentication ErrorKind = "authentication_error"
	// KindNetwork means connectivity to the recognition service was lost.
	KindNetwork ErrorKind = "network_error"
	// KindTimeout means a continuous session exceeded its maximum duration.
	KindTimeout ErrorKind = "timeout"
	// KindRecognitionFailed covers any failure not matching a specific kind.
	KindRecognitionFailed ErrorKind = "recognition_failed"
)

// Recoverable reports whether the caller can retry after this failure kind.
func (k ErrorKind) Recoverable() bool {
	return k != KindAuthentication
}

// Error is one classified pipeline failure delivered as a value, never thrown
// across the subscription boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	// Timeout carries the session duration limit for KindTimeout.
	Timeout time.Duration
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Recoverable projects the kind-level retry guidance.
func (e *Error) Recoverable() bool {
	return e.Kind.Recoverable()
}

// NewError builds a classified failure.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewTimeoutError builds the continuous-mode duration failure.
func NewTimeoutError(limit time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("continuous session exceeded %s", limit),
		Timeout: limit,
	}
}
