package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBriefNotFound = errors.New("brief not found")
	ErrJobNotFound   = errors.New("job not found")
	ErrShuttingDown  = errors.New("dispatcher is shutting down")
	errCancelled     = errors.New("job cancelled")
)

// ValidationError reports a brief that can never produce narration. It is
// returned synchronously from Submit and never enters the queue.
type ValidationError struct {
	BriefID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("brief %s is not valid: %s", e.BriefID, e.Reason)
}

// TransientProviderError is a synthesis failure worth retrying: timeouts,
// rate limits and 5xx responses.
type TransientProviderError struct {
	Err     error
	Timeout bool
}

func (e *TransientProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("synthesis timed out: %v", e.Err)
	}
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentProviderError is a synthesis failure that will not go away on
// retry, such as an unknown voice.
type PermanentProviderError struct {
	Err error
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("synthesis rejected: %v", e.Err)
}

func (e *PermanentProviderError) Unwrap() error { return e.Err }

// StorageError wraps an object store failure during upload.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// temporary is implemented by provider client errors that know whether they
// are worth retrying.
type temporary interface {
	Temporary() bool
}

// timeout is implemented by net errors and provider timeouts.
type timeout interface {
	Timeout() bool
}

// classifyProviderError maps an arbitrary synthesis error onto the transient
// or permanent kind. Unknown errors are treated as transient.
func classifyProviderError(err error) error {
	var (
		transient *TransientProviderError
		permanent *PermanentProviderError
	)
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientProviderError{Err: err, Timeout: true}
	}
	var to timeout
	if errors.As(err, &to) && to.Timeout() {
		return &TransientProviderError{Err: err, Timeout: true}
	}

	var tmp temporary
	if errors.As(err, &tmp) && !tmp.Temporary() {
		return &PermanentProviderError{Err: err}
	}
	return &TransientProviderError{Err: err}
}
