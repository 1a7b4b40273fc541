package service

import "errors"

var (
	// ErrInvalidTrip is returned when no trip payload is given.
	ErrInvalidTrip = errors.New("invalid trip payload")

	// ErrTripNotFound is returned when the trip does not exist in the primary store.
	ErrTripNotFound = errors.New("trip not found")

	// ErrNotOwner is returned when the acting user neither owns the trip nor is the instance owner.
	ErrNotOwner = errors.New("trip does not belong to user")

	// ErrTicketNotOwned is returned when the ticket is missing or belongs to someone else.
	ErrTicketNotOwned = errors.New("ticket does not belong to user")

	// ErrInvalidVisibility is returned for a visibility other than public, friends or private.
	ErrInvalidVisibility = errors.New("invalid visibility")

	// ErrInvalidTripType is returned for an unknown transport mode.
	ErrInvalidTripType = errors.New("invalid trip type")

	// ErrEmptyPath is returned when a trip is written without any path point.
	ErrEmptyPath = errors.New("trip path has no points")

	// ErrUnknownUser is returned when the acting user is not registered.
	ErrUnknownUser = errors.New("unknown user")

	// ErrMigrationInProgress is returned while a bulk migration holds the stores.
	ErrMigrationInProgress = errors.New("migration in progress")

	// ErrNoTrips is returned when a batch operation names no trips.
	ErrNoTrips = errors.New("no trips given")
)
