//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, offset int, activeLow bool) (*RealOutput, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(active bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error {
	return nil
}

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// NewRealInput returns an error on non-Linux platforms.
func NewRealInput(chipName string, offset int, activeLow bool) (*RealInput, error) {
	return nil, errUnsupported
}

// Active is not implemented on non-Linux platforms.
func (i *RealInput) Active() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (i *RealInput) Close() error {
	return nil
}
