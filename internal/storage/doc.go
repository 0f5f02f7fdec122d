// Package storage provides SQLite-backed repositories for hospital records with
// versioned schema migrations and an atomic appointment availability check.
package storage
