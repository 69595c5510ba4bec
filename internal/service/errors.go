package service

import "errors"

var (
	// ErrForbidden is returned when the actor may not touch the ticket.
	ErrForbidden = errors.New("forbidden")
	// ErrTooManyOpenTickets is returned when the owner reached the open ticket limit.
	ErrTooManyOpenTickets = errors.New("too many open tickets")
	// ErrInvalidMessage is returned for empty or oversized message content.
	ErrInvalidMessage = errors.New("invalid message")
)
