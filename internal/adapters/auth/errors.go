package auth

import "errors"

var (
	// ErrAuthFailed means the authorization endpoint refused the credentials
	// or answered without a token. No further requests can be made.
	ErrAuthFailed = errors.New("authorization failed")
	// ErrNoToken means the authorization response carried no access token.
	ErrNoToken = errors.New("authorization response has no access token")
)
