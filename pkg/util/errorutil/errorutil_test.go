package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	forbidden := NewForbidden("not your ticket")
	assert.Same(t, forbidden, ToDomainError(fmt.Errorf("wrapped: %w", forbidden)))

	notFound := ToDomainError(fmt.Errorf("get ticket: %w", pgx.ErrNoRows))
	assert.Equal(t, "NOT_FOUND", notFound.Code)
	assert.Equal(t, http.StatusNotFound, notFound.HTTPStatus)
	assert.ErrorIs(t, notFound, pgx.ErrNoRows)

	internal := ToDomainError(errors.New("disk full"))
	assert.Equal(t, "INTERNAL_ERROR", internal.Code)
	assert.Equal(t, "internal server error: disk full", internal.Error())
}

func TestWrapDoesNotMutateTemplate(t *testing.T) {
	base := NewConflict("TICKET_CLOSED", "ticket is closed", nil)
	wrapped := base.Wrap(errors.New("cause"))
	assert.Nil(t, base.Err)
	assert.Equal(t, "TICKET_CLOSED", wrapped.Code)
}
