// Package auth resolves API keys to the subject that owns chat sessions.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// RoleChatUser allows creating sessions and asking questions.
const RoleChatUser = "chat_user"

type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys parsed from a comma separated list of
// key:subject:role|role entries.
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(raw string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("duplicate static key entry for subject %q", identity.Subject)
		}
		validator.keys[key] = identity
	}
	return validator, nil
}

func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: expected key:subject:role|role", entry)
	}
	key := strings.TrimSpace(parts[0])
	subject := strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: empty key/subject", entry)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, Identity{Subject: subject, Roles: slices.Compact(roles)}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

// Len reports how many keys are configured.
func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}
