// Package swaperr holds the typed failure kinds shared by every stage of intent resolution.
package swaperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure
type Kind string

const (
	KindTransport           Kind = "TransportError"
	KindApplication         Kind = "ApplicationError"
	KindValidation          Kind = "ValidationError"
	KindInsufficientOutput  Kind = "InsufficientOutputError"
	KindChainUnsupported    Kind = "ChainUnsupportedError"
	KindApproval            Kind = "ApprovalError"
	KindTransactionDropped  Kind = "TransactionDroppedError"
	KindTransactionTimeout  Kind = "TransactionTimeoutError"
	KindTransactionReverted Kind = "TransactionRevertedError"
	KindInsufficientFunds   Kind = "InsufficientFundsError"
	KindNonceExpired        Kind = "NonceExpiredError"
	KindMaxRetriesExceeded  Kind = "MaxRetriesExceededError"
	KindRefund              Kind = "RefundError"
	KindBridgeUnavailable   Kind = "BridgeUnavailableError"
	KindConfiguration       Kind = "ConfigurationError"
	KindUnknown             Kind = "UnknownError"
)

// Error is a classified failure with optional diagnostic context
type Error struct {
	Kind    Kind
	Op      string
	Msg     string
	Context map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Context[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithContext attaches a diagnostic key/value and returns the same error
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the outermost classified error in the chain
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Is reports whether any classified error in the chain has the given kind
func Is(err error, kind Kind) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == kind {
			return true
		}
		err = se.Err
	}
	return false
}

// Retryable reports whether an operation that failed with err may be attempted again
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range []Kind{
		KindValidation,
		KindInsufficientOutput,
		KindChainUnsupported,
		KindInsufficientFunds,
		KindNonceExpired,
		KindTransactionReverted,
		KindConfiguration,
		KindBridgeUnavailable,
	} {
		if Is(err, k) {
			return false
		}
	}
	return true
}

// ClassifyChainError maps raw node error messages onto kinds. Errors that are
// already classified are returned unchanged.
func ClassifyChainError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "insufficientgas"),
		strings.Contains(msg, "insufficientcoinbalance"):
		return Wrap(KindInsufficientFunds, op, err)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce expired"),
		strings.Contains(msg, "nonce has already been used"),
		strings.Contains(msg, "objectversionunavailableforconsumption"):
		return Wrap(KindNonceExpired, op, err)
	case strings.Contains(msg, "execution reverted"):
		return Wrap(KindTransactionReverted, op, err)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"):
		return Wrap(KindTransport, op, err)
	}
	return Wrap(KindUnknown, op, err)
}
