// Package store provides persistent storage for the Asana bridge using SQLite.
//
// # Data Models
//
//   - Thread: a conversation with the agent started for one Asana task
//   - LedgerEvent: an append-only history entry, ordered by Seq
//   - Settings: instance key/value pairs such as the webhook handshake secret
//
// Agent state changes are recorded as LedgerEvents of type EventTypeState so
// a late reader can scan recent history to learn whether a conversation has
// already finished.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Deleting a thread cascades to its events.
//
// # Testing
//
// MockStore is an in-memory Store for tests in dependent packages.
package store
