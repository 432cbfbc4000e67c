package protocol

import "errors"

var (
	// ErrUnknownDepth indicates a depth word outside empty, files, immediates and infinity.
	ErrUnknownDepth = errors.New("unknown depth")

	// ErrMalformed indicates a message or its parameters could not be decoded.
	ErrMalformed = errors.New("malformed message")
)
