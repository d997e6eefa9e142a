package commands

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/bitbucket"
)

// ErrorKind classifies a failed command for the chat reply.
type ErrorKind string

// Error kinds
const (
	KindValidation    ErrorKind = "ValidationError"
	KindAuthorization ErrorKind = "AuthorizationError"
	KindGeneric       ErrorKind = "GenericError"
)

// User facing messages per error kind.
const (
	MsgValidation    = "The request contained errors."
	MsgAuthorization = "You are not authorized to access the requested resource."
	MsgGeneric       = "Error occurred. Please contact support."
)

// CommandError is a classified command failure. Title is the display name of
// the command that failed.
type CommandError struct {
	Kind    ErrorKind
	Title   string
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Kind)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Classify maps a command failure to a *CommandError. Status 400 and 422
// are validation errors, 403 and 404 authorization errors, anything else
// carrying a message is generic. An error without any message is returned
// unchanged and must be treated as fatal.
func Classify(title string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce
	}

	kind, msg := KindGeneric, MsgGeneric
	var apiErr *bitbucket.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			kind, msg = KindValidation, MsgValidation
		case http.StatusForbidden, http.StatusNotFound:
			kind, msg = KindAuthorization, MsgAuthorization
		default:
			if apiErr.Message == "" {
				return err
			}
		}
	} else if err.Error() == "" {
		return err
	}
	return &CommandError{Kind: kind, Title: title, Message: msg, Err: err}
}

// IsFatal reports whether err could not be classified.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *CommandError
	return !errors.As(err, &ce)
}
