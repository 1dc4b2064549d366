package service

import (
	"errors"

	"github.com/grihya/livechat/internal/storage"
)

// ErrNotFound is returned for unknown conversation tokens.
var ErrNotFound = storage.ErrNotFound

// ValidationError reports a rejected input field. No write has happened when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// AsValidation unwraps err into a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
