// Package store persists the recognition ledger and client credentials.
//
// # Ledger
//
// The gateway records four events per sequence:
//
//   - RecordPredictionOpen / RecordStreamOpen when the client declares a
//     sequence
//   - RecordPredictionUpdate / RecordStreamUpdate on every final recognition
//     result, with all predictions so far joined by ", " and the stream
//     duration derived from the bytes received
//
// With database.store_audio set, RecordPlayback keeps every inbound audio
// frame so sessions can be replayed later.
//
// # Implementations
//
//   - SQLiteStore: local file, modernc.org/sqlite ("sqlite") or
//     github.com/mattn/go-sqlite3 ("sqlite3"), schema created on open
//   - postgres.Store: PostgreSQL via lib/pq with embedded migrations
//   - NopLedger: used when the database is disabled
//
// # Credentials
//
// CredentialStore backs the "database" auth method. Passwords are stored as
// bcrypt hashes and never leave the store.
package store
