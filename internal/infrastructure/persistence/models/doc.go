// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain entities carry no GORM tags
// 2. Persistence models contain all GORM annotations and table mappings
// 3. ToDomain/FromDomain convert between the two
//
// The authoritative schema lives in migrations/; the tags here mirror it so
// AutoMigrate can build an equivalent schema for SQLite-backed tests.
package models
