// Package database provides SQLite connectivity for Fieldline Core.
//
// It owns connection setup (WAL mode, busy timeout, foreign keys) and the
// embedded migration runner. Domain packages define Repository interfaces
// and provide SQLite implementations on top of *database.DB.
package database
