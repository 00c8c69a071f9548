package batch

import (
	"errors"
	"fmt"
)

// Kind classifies a batch error. Input kinds are rejected synchronously at
// submission; file kinds fail a single file; job kinds fail the whole run.
type Kind string

const (
	KindInvalidRequest    Kind = "InvalidRequestError"
	KindNoFilesFound      Kind = "NoFilesFoundError"
	KindNoCandidate       Kind = "NoCandidateError"
	KindReferenceNotFound Kind = "ReferenceNotFoundError"
	KindEmptyBatch        Kind = "EmptyBatchError"

	KindInsufficientDisk  Kind = "InsufficientDiskError"
	KindDownload          Kind = "DownloadError"
	KindRepairTool        Kind = "RepairToolError"
	KindOutputNotProduced Kind = "OutputNotProducedError"
	KindOutputTooSmall    Kind = "OutputTooSmallError"
	KindUpload            Kind = "UploadError"

	KindReferenceDownload Kind = "ReferenceDownloadError"
)

// IsInput reports whether the kind is surfaced to the caller at submission.
func (k Kind) IsInput() bool {
	switch k {
	case KindInvalidRequest, KindNoFilesFound, KindNoCandidate, KindReferenceNotFound, KindEmptyBatch:
		return true
	}
	return false
}

// Error is a classified batch failure. It wraps its cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrEmptyBatch)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrNoFilesFound      = &Error{Kind: KindNoFilesFound}
	ErrNoCandidate       = &Error{Kind: KindNoCandidate}
	ErrReferenceNotFound = &Error{Kind: KindReferenceNotFound}
	ErrEmptyBatch        = &Error{Kind: KindEmptyBatch}
	ErrInsufficientDisk  = &Error{Kind: KindInsufficientDisk}
	ErrDownload          = &Error{Kind: KindDownload}
	ErrRepairTool        = &Error{Kind: KindRepairTool}
	ErrOutputNotProduced = &Error{Kind: KindOutputNotProduced}
	ErrOutputTooSmall    = &Error{Kind: KindOutputTooSmall}
	ErrUpload            = &Error{Kind: KindUpload}
	ErrReferenceDownload = &Error{Kind: KindReferenceDownload}
)

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a short context message.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
