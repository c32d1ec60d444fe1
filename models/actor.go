package models

import (
	"context"
	"errors"

	"github.com/fieldfocus/fieldops_backend/utils"
)

// Actor is the authenticated identity attributed on every mutating call.
// It is threaded explicitly rather than read ambiently so audit attribution
// is a pure function of inputs.
type Actor struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Actor) Validate() error {
	if a.Id <= 0 {
		return errors.New("actor id is required")
	}
	return nil
}

// ActorFromContext builds an Actor from the request context once, at the
// edge. Workflows never read the context for identity themselves.
func ActorFromContext(ctx context.Context) (Actor, error) {
	id, ok := utils.GetUserIdFromContext(ctx)
	if !ok || id <= 0 {
		return Actor{}, errors.New("user id is required")
	}
	name, _ := utils.GetUserNameFromContext(ctx)
	email, _ := utils.GetUserEmailFromContext(ctx)
	return Actor{Id: id, Name: name, Email: email}, nil
}
