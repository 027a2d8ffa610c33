// Package integration contains integration tests for the SSO ticket kernel.
//
// These tests use testcontainers to spin up real dependencies (Redis) and
// exercise the ticket store contract in an environment that closely
// matches production.
package integration
