package runs

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, tenant string, id RunID) (*Run, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Run, error)
	Summary(ctx context.Context, tenant string, since time.Time) (StatusCounts, error)
}

// ArtifactStore port (interface untuk penyimpanan transcript)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}
