// Package failure defines the error taxonomy shared by the pipeline stages.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies why a stage failed.
type Kind string

const (
	FileAccess  Kind = "file_access"
	Schema      Kind = "schema"
	Clustering  Kind = "clustering"
	Persistence Kind = "persistence"
	Config      Kind = "config"
)

// Error tags an underlying cause with its Kind and the stage that raised it.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New tags err with kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// WithStage sets the stage on the first *Error in err's chain, or wraps err
// as an untyped failure of that stage when none is present.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Stage == "" {
			fe.Stage = stage
		}
		return err
	}
	return &Error{Stage: stage, Err: err}
}

// NewFileAccess tags err as an unreadable or unrecognized input.
func NewFileAccess(err error) error { return New(FileAccess, err) }

// NewSchema tags err as a missing or malformed column.
func NewSchema(err error) error { return New(Schema, err) }

// NewClustering tags err as an invalid or degenerate cluster request.
func NewClustering(err error) error { return New(Clustering, err) }

// NewPersistence tags err as an output container failure.
func NewPersistence(err error) error { return New(Persistence, err) }

// NewConfig tags err as an invalid setting.
func NewConfig(err error) error { return New(Config, err) }

// Is reports whether any error in err's chain is a failure of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	for err != nil {
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// KindOf returns the kind of the outermost failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != "" {
		return fe.Kind, true
	}
	return "", false
}
