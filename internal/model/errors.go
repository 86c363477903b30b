package model

import "errors"

var (
	// ErrUnauthorized is returned when the backend rejects the bearer token.
	// It is fatal to the collaboration session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProjectRequired is returned when an operation is missing the project id.
	ErrProjectRequired = errors.New("project id is required")

	// ErrSegmentRequired is returned when an operation is missing the segment id.
	ErrSegmentRequired = errors.New("segment id is required")

	// ErrUserIDRequired is returned when a channel connection or presence
	// mutation carries no user id.
	ErrUserIDRequired = errors.New("user id is required")

	// ErrProjectNotFound is returned when a project does not exist.
	ErrProjectNotFound = errors.New("project not found")
)
