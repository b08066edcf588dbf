// Package storage keeps the send history: one record per attempt to
// prepare or send a message, whether scheduled or immediate.
package storage
