// Package integration contains integration tests for the SMART-on-FHIR
// gateway service.
//
// These tests use testcontainers to spin up real dependencies (Redis) and
// exercise the rate limiting path in an environment that closely matches
// production.
package integration
