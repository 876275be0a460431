package checkout

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed checkout event")
)

// MissingFieldError rejects an event lacking a field needed to record the purchase.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing or invalid required field(s): " + strings.Join(e.Fields, ", ")
}

func IsMissingRequiredField(err error) bool {
	var mfe *MissingFieldError
	return errors.As(err, &mfe)
}

// PersistenceError is a storage failure while recording the purchase. The provider is
// answered with a server error so that it retries the delivery.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsPersistenceFailure(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
