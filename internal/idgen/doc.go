// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Mailbox messages and runtime instances use it for their identifiers;
// callers should treat the values as opaque strings.
package idgen
