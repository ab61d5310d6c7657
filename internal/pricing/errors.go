package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedExtension is returned when an extension has no usable price under the requested transaction.
	ErrUnsupportedExtension = errors.New("unsupported extension")
	// ErrUnsupportedCurrency is returned when a currency is not allowed or cannot be converted or taxed.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Kind is a stable machine-readable error classification.
type Kind string

const (
	KindUnsupportedExtension Kind = "UNSUPPORTED_EXTENSION"
	KindUnsupportedCurrency  Kind = "UNSUPPORTED_CURRENCY"
)

// Error carries the offending identifier alongside its kind.
type Error struct {
	Kind  Kind
	Value string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %q", e.sentinel().Error(), e.Value)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.sentinel()
}

func (e *Error) sentinel() error {
	if e.Kind == KindUnsupportedCurrency {
		return ErrUnsupportedCurrency
	}
	return ErrUnsupportedExtension
}

func unsupportedExtension(value string) error {
	return &Error{Kind: KindUnsupportedExtension, Value: value}
}

func unsupportedCurrency(value string) error {
	return &Error{Kind: KindUnsupportedCurrency, Value: value}
}

// KindOf reports the kind of a pricing error, or an empty string for anything else.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
