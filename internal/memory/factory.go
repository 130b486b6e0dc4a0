package memory

import (
	"context"
	"strings"
)

// NewCollection creates a postgres-backed collection when configured,
// otherwise an embedded chromem collection.
func NewCollection(ctx context.Context, databaseURL, chromemPath string) (Collection, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		c, err := NewChromemCollection(strings.TrimSpace(chromemPath))
		return c, "chromem", err
	}
	c, err := NewPostgresCollection(ctx, databaseURL)
	return c, "postgres", err
}
