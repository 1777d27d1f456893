package fingerprint

import "errors"

var (
	ErrInvalidParams     = errors.New("invalid fingerprint parameters")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrNoHashes          = errors.New("empty index: signal produced no hashes")

	// ErrIndexUnavailable covers every reason a stored index cannot be used.
	ErrIndexUnavailable  = errors.New("index unavailable")
	ErrCorruptIndex      = wrapUnavailable("corrupt index")
	ErrVersionMismatch   = wrapUnavailable("index version mismatch")
	ErrIncompatibleIndex = wrapUnavailable("index built with different parameters")
)

type unavailableError struct{ msg string }

func wrapUnavailable(msg string) error { return &unavailableError{msg: msg} }

func (e *unavailableError) Error() string { return e.msg }

func (e *unavailableError) Unwrap() error { return ErrIndexUnavailable }
