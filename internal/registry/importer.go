package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// Upserter is the write side of store.Registry.
type Upserter interface {
	UpsertFarms(ctx context.Context, farms []model.Farm) (int64, error)
}

// ImportFile loads a fixture and upserts every farm in one batch.
func ImportFile(ctx context.Context, reg Upserter, path string) (int64, error) {
	farms, err := LoadFarmsFromFile(path)
	if err != nil {
		return 0, err
	}
	if len(farms) == 0 {
		zap.L().Warn("registry: fixture has no farms", zap.String("path", path))
		return 0, nil
	}

	n, err := reg.UpsertFarms(ctx, farms)
	if err != nil {
		return 0, eris.Wrapf(err, "registry: upsert %d farms", len(farms))
	}
	zap.L().Info("registry: farms imported",
		zap.String("path", path),
		zap.Int("farms", len(farms)),
		zap.Int64("upserted", n),
	)
	return n, nil
}
