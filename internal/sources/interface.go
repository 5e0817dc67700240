package sources

import (
	"context"
	"time"
)

// Query selects catalog records submitted inside [Since, Until]
type Query struct {
	Categories []string
	Since      time.Time
	Until      time.Time
	MaxResults int
}

// Catalog defines the contract for paper catalogs
type Catalog interface {
	GetName() string
	Query(ctx context.Context, q Query) ([]Record, error)
}
