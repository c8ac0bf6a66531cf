// Package users persists account records in Postgres through gorm and
// adapts them to the engine's credential store interface.
package users
