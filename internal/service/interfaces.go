package service

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// UserDirectory is the boundary to user/account persistence, which this
// service does not own. The token core only needs an existence check and the
// role claims to stamp into access tokens.
type UserDirectory interface {
	Lookup(userID uint) (roles []string, err error)
	ResolveExternal(info *OAuthUserInfo) (userID uint, roles []string, err error)
}

// OAuthStateStore holds single-use login state nonces. Consume must be
// atomic: a state value can be redeemed at most once.
type OAuthStateStore interface {
	Put(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (bool, error)
}
