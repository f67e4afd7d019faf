package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

const (
	exitCodeFailure  = 1
	exitCodeUsage    = 2
	exitCodeCanceled = 130
)

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// commandError classifies err for the process exit code. Bad input exits 2
// and an interrupted command exits 130 without repeating the error.
func commandError(err error) error {
	var ee *exitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ee):
		return err
	case errors.Is(err, context.Canceled):
		return &exitError{code: exitCodeCanceled, err: err, silent: true}
	case errors.Is(err, asset.ErrValidation), errors.Is(err, asset.ErrDecode):
		return &exitError{code: exitCodeUsage, err: err}
	default:
		return &exitError{code: exitCodeFailure, err: err}
	}
}
