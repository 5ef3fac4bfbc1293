// Package auth issues and validates the bearer tokens that guard
// state-changing management API routes.
//
// Tokens are HS256 JWTs signed with the api.jwt.secret setting. They carry
// a subject naming the operator or tool and a list of scopes; a route
// checks for the scope it needs.
package auth
