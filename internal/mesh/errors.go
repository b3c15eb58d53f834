package mesh

import (
	"errors"
	"fmt"
)

// RemoteFetchError reports a failed mesh API call: a transport failure, a
// non-2xx response, or an undecodable body.
type RemoteFetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RemoteFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mesh api %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mesh api %s: %v", e.Endpoint, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// IsRemoteFetchError reports whether err wraps a RemoteFetchError.
func IsRemoteFetchError(err error) bool {
	var fetchErr *RemoteFetchError
	return errors.As(err, &fetchErr)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fetchErr *RemoteFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}
