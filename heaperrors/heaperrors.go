// Package heaperrors defines the closed set of error kinds the engine
// surfaces, mirroring the thiserror enum in the original implementation.
package heaperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPage         = errors.New("invalid page")
	ErrInvalidTuple        = errors.New("invalid tuple")
	ErrCorruptedData       = errors.New("corrupted data")
	ErrPageNotFound        = errors.New("page not found")
	ErrIO                  = errors.New("storage i/o error")
	ErrNoFreeSpace         = errors.New("no free space")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrLockError           = errors.New("lock error")
)

// PageNotFound wraps ErrPageNotFound with the missing block number so
// callers can both errors.Is(err, ErrPageNotFound) and read the block.
func PageNotFound(block uint32) error {
	return fmt.Errorf("%w: block %d", ErrPageNotFound, block)
}

// Wrap attaches context to a lower-level error while preserving its cause
// for errors.Is/errors.As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
