package store

import (
	"context"

	"gorm.io/gorm"
)

// ============================================================================
// Generic GORM Helpers
// ============================================================================
//
// These helpers reduce repetitive CRUD boilerplate across store implementation
// files. They are unexported (package-internal) and operate on the raw *gorm.DB
// to avoid coupling to GORMStore. Each helper handles standard concerns like
// context propagation, preloading, and not-found error conversion.

// getByField retrieves a single record of type T by matching field=value.
// It applies optional GORM Preload clauses and converts gorm.ErrRecordNotFound
// to the provided notFoundErr for consistent domain error mapping.
//
// Example:
//
//	client, err := getByField[Client](db, ctx, "id", id, ErrClientNotFound)
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error, preloads ...string) (*T, error) {
	var result T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// listAll retrieves all records of type T, applying optional GORM Preload clauses.
// Returns an empty slice (not nil) on success with no records.
//
// Example:
//
//	clients, err := listAll[Client](db, ctx)
func listAll[T any](db *gorm.DB, ctx context.Context, preloads ...string) ([]*T, error) {
	var results []*T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

