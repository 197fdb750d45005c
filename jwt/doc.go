// Package jwt issues and verifies the access and refresh tokens of an admin session.
//
// Tokens carry a kind claim, so a refresh token is never accepted where an access token is
// expected, and a device fingerprint that must match the caller's at verification time.
// Inspect offers an unverified, identity-free decode for countdown displays.
package jwt
