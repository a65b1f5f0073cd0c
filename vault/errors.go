package vault

import "fmt"

// Service errors are tagged by kind so callers branch on the type instead of
// matching message text. The repository reports ErrNotFound/ErrConflict and the
// services translate those into the entity- and field-level kinds below.

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return e.Reason }

type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return e.Reason }

type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return e.Reason }
