// Package users provides [linkauth.UserDirectory] implementations: an
// in-process Memory directory for development and tests, and a Postgres
// directory on pgx for deployments.
package users
