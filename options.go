//go:build linux

package unio

import (
	"github.com/brickingsoft/errors"
)

type Options struct {
	Entries uint32
}

type Option func(*Options) error

// WithEntries sets the submission ring size. The kernel rounds it up to a
// power of two and sizes the completion ring from it.
func WithEntries(entries uint32) Option {
	return func(options *Options) error {
		if entries == 0 {
			return errors.New("entries must be greater than zero")
		}
		options.Entries = entries
		return nil
	}
}
