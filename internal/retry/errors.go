package retry

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Transient Kind = iota
	Permanent
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Op string

const (
	OpResolution  Op = "resolution"
	OpDownload    Op = "download"
	OpConversion  Op = "conversion"
	OpPersistence Op = "persistence"
	OpJobState    Op = "job_state"
)

// Error is a pipeline stage failure with an explicit classification.
type Error struct {
	Op   Op
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s error (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolution wraps a playlist metadata failure, classifying err when it
// carries no kind of its own.
func Resolution(err error) error {
	return wrap(OpResolution, err)
}

func Download(err error) error {
	return wrap(OpDownload, err)
}

func Conversion(err error) error {
	return wrap(OpConversion, err)
}

// Persistence marks archive or ledger storage failures. These always abort
// the run.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: OpPersistence, Kind: Fatal, Err: err}
}

// WithKind wraps err for op with a fixed classification.
func WithKind(op Op, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) && re.Op == op {
		return err
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}

func IsFatal(err error) bool {
	return err != nil && Classify(err) == Fatal
}

// OpOf reports the stage recorded on err, or "" when err is unclassified.
func OpOf(err error) Op {
	var re *Error
	if errors.As(err, &re) {
		return re.Op
	}
	return ""
}
