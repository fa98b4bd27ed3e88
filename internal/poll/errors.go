package poll

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid request")

	ErrInvalidPrice       = fmt.Errorf("%w: price_willing must be a whole number", ErrValidation)
	ErrInvalidInteraction = fmt.Errorf("%w: interaction requires sessionId and type", ErrValidation)

	ErrDuplicate = errors.New("a response was already submitted for this session")
	ErrStore     = errors.New("failed to reach the store")
)
