package auth

import (
	"context"
	"fmt"
)

// StaticClaimsSource serves user claims from a fixed in-memory table. It is
// the default userinfo backend for development and tests; production wires a
// directory or database behind the same interface.
type StaticClaimsSource struct {
	users map[string]map[string]any
}

func NewStaticClaimsSource(users map[string]map[string]any) *StaticClaimsSource {
	if users == nil {
		users = make(map[string]map[string]any)
	}
	return &StaticClaimsSource{users: users}
}

// ClaimsFor returns the subset of the requested claims known for the user.
// Unknown users yield an error; unknown claim names are simply omitted.
func (s *StaticClaimsSource) ClaimsFor(_ context.Context, userID string, names []string) (map[string]any, error) {
	record, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("no claims recorded for user %s", userID)
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := record[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
