// Package tdberr defines the typed error taxonomy every tdbx component
// surfaces to its caller.
package tdberr

import "fmt"

// Kind identifies which class of failure an Error represents.
type Kind string

const (
	KindValidation      Kind = "validation-error"
	KindPermission      Kind = "permission-error"
	KindConfig          Kind = "config-error"
	KindEncryption      Kind = "encryption-error"
	KindDecryption      Kind = "decryption-error"
	KindDataCorruption  Kind = "data-corruption-error"
	KindDataFormat      Kind = "data-format-error"
	KindFileRead        Kind = "file-read-error"
	KindFileWrite       Kind = "file-write-error"
	KindTransaction     Kind = "transaction-error"
	KindBackup          Kind = "backup-error"
	KindRestore         Kind = "restore-error"
)

// Error is a typed, human-readable failure carrying the short kind code
// spec §7 requires every surfaced error to have.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, tdberr.Validation("")) match on Kind alone when
// the sentinel's Message is empty.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(k Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, format, args...)
}

// Permission builds a permission-error that enumerates the role's allowed
// actions, per spec §7 "Permission errors enumerate the role's allowed
// actions".
func Permission(role, action string, allowed []string) *Error {
	return newErr(KindPermission, "role %q may not perform %q (allowed: %v)", role, action, allowed)
}

func Config(format string, args ...interface{}) *Error {
	return newErr(KindConfig, format, args...)
}

func Encryption(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindEncryption, cause, format, args...)
}

func Decryption(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindDecryption, cause, format, args...)
}

func DataCorruption(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindDataCorruption, cause, format, args...)
}

func DataFormat(format string, args ...interface{}) *Error {
	return newErr(KindDataFormat, format, args...)
}

func FileRead(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindFileRead, cause, format, args...)
}

func FileWrite(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindFileWrite, cause, format, args...)
}

func Transaction(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindTransaction, cause, format, args...)
}

func Backup(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindBackup, cause, format, args...)
}

func Restore(cause error, format string, args ...interface{}) *Error {
	return wrapErr(KindRestore, cause, format, args...)
}

// Of reports the Kind of err if it is (or wraps) a *tdberr.Error.
func Of(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
