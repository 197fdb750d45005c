package main

import (
	"context"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/config"
)

// staticUsers serves the accounts listed in the config file.
type staticUsers map[string]goGuard.UserRecord

func newStaticUsers(users []config.UserConfig) staticUsers {
	out := make(staticUsers, len(users))
	for _, u := range users {
		out[strings.ToLower(u.Email)] = goGuard.UserRecord{
			UserID:       u.UserID,
			Email:        u.Email,
			Role:         u.Role,
			PasswordHash: u.PasswordHash,
			Disabled:     u.Disabled,
		}
	}
	return out
}

func (s staticUsers) GetByEmail(_ context.Context, email string) (goGuard.UserRecord, error) {
	u, ok := s[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return u, nil
}
