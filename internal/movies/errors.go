package movies

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound is returned when no movie exists with the requested key.
	ErrNotFound = errors.New("movies: movie not found")

	// ErrConditionFailed is returned when a conditional write was rejected by the table.
	ErrConditionFailed = errors.New("movies: condition check failed")

	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("movies: table already exists")
)

// storeError keeps the original DynamoDB error reachable through errors.As
// while matching one of the package sentinels through errors.Is.
type storeError struct {
	sentinel error
	err      error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel, ErrorMessage(e.err))
}

func (e *storeError) Is(target error) bool {
	return target == e.sentinel
}

func (e *storeError) Unwrap() error {
	return e.err
}

func classify(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return &storeError{sentinel: ErrConditionFailed, err: err}
	}

	var inUseErr *types.ResourceInUseException
	if errors.As(err, &inUseErr) {
		return &storeError{sentinel: ErrTableExists, err: err}
	}

	return err
}

// ErrorMessage returns the message sent back by DynamoDB for API errors, or
// the error text for anything else.
func ErrorMessage(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) && ae.ErrorMessage() != "" {
		return ae.ErrorMessage()
	}

	return err.Error()
}

// IsRequestError reports whether err was returned by the DynamoDB API for the
// request itself (validation, authentication, throttling, ...), as opposed to
// a local or transport failure.
func IsRequestError(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae)
}
