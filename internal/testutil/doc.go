// Package testutil provides deterministic helpers shared by package tests:
// substrate factories and session id generators.
package testutil
