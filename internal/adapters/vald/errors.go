package vald

import (
	"errors"

	"github.com/okian/forcedeck/internal/adapters/retry"
)

// ErrDataShape means a response did not have the expected structure.
var ErrDataShape = errors.New("unexpected response shape")

// StatusError is returned for responses other than 200, including a 401 that
// persisted after the token was refreshed.
type StatusError = retry.StatusError
