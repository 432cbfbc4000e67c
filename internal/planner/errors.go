package planner

import "errors"

var (
	// ErrPlanning indicates the plan could not be computed, usually because
	// the repository could not be read.
	ErrPlanning = errors.New("planning failed")

	// ErrTargetNotFound indicates the planned-against path does not exist at
	// the target revision.
	ErrTargetNotFound = errors.New("target path not found")

	// ErrTargetNotDirectory indicates the planned-against path is a file.
	ErrTargetNotDirectory = errors.New("target path is not a directory")
)
