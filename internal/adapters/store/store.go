// Package store holds the durable room backends: per-room participant set
// and chat history. Live presence never reaches this package.
package store

import (
	"context"
	"fmt"

	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/core"
)

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (core.RoomStore, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return NewMemory(), nil
	case config.StoreMongo:
		return OpenMongo(ctx, cfg.URI, cfg.Database)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.URI)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreDriver, cfg.Driver)
	}
}
