// Package auth issues and validates bearer tokens for the management API.
//
// Tokens are HS256 JWTs signed with the configured secret. They carry one
// of two roles:
//   - viewer: read-only access
//   - operator: read access plus registry changes and frame injection
//
// There are no user accounts; tokens are minted offline with the operator CLI.
package auth
