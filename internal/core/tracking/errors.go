package tracking

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("welcome message not found")
)

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
