package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers wrap these with context via the
// constructors below and test with errors.Is.
var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrTemplateEmpty      = errors.New("template has no content")
	ErrMissingField       = errors.New("missing required field")
	ErrTemplateValidation = errors.New("template validation failed")
	ErrTemplateRender     = errors.New("template render failed")
	ErrYAMLParse          = errors.New("yaml parse error")
	ErrDatabase           = errors.New("database error")
)

func NotFoundError(name string) error {
	return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

func EmptyError(name string) error {
	return fmt.Errorf("%w: %s", ErrTemplateEmpty, name)
}

// MissingFieldError reports an identity field absent from the render
// query. The message is part of the API surface; clients match on
// "Missing required field".
func MissingFieldError(field string) error {
	return fmt.Errorf("Missing required field: %s (%w)", field, ErrMissingField)
}

func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrTemplateValidation, msg)
}

func RenderError(msg string) error {
	return fmt.Errorf("%w: %s", ErrTemplateRender, msg)
}

func YAMLError(msg string) error {
	return fmt.Errorf("%w: %s", ErrYAMLParse, msg)
}

func DatabaseError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDatabase, op, err)
}
