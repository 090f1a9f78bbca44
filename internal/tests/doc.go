// Package tests holds the emulator-backed integration tests. They are
// compiled only with the pubsub_integration build tag.
package tests
