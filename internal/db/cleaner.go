package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/metrics"
)

// orphanQuery selects files older than the cutoff that no relationship and
// no item property references. They are left behind when a check-in uploads
// a file but every link method fails.
const orphanQuery = `
SELECT COALESCE(array_agg(f.id ORDER BY f.created_at), '{}')
  FROM files f
 WHERE f.created_at < $1
   AND NOT EXISTS (SELECT 1 FROM relationships r WHERE r.related_id = f.id)
   AND NOT EXISTS (
       SELECT 1 FROM items i, jsonb_each_text(i.properties) p WHERE p.value = f.id
   )`

// maxLoggedOrphans caps the IDs included in one report line.
const maxLoggedOrphans = 20

// FindOrphanFiles returns the IDs of unreferenced files created before cutoff.
func FindOrphanFiles(ctx context.Context, db *sql.DB, cutoff time.Time) ([]string, error) {
	var ids pq.StringArray
	if err := db.QueryRowContext(ctx, orphanQuery, cutoff).Scan(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// StartOrphanReporter periodically reports unreferenced files. Files are
// never removed; an operator links or deletes them.
func StartOrphanReporter(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := FindOrphanFiles(ctx, db, time.Now().Add(-retention))
				if err != nil {
					log.Error("failed to find orphan files", zap.Error(err))
					continue
				}
				metrics.OrphanFiles.Set(float64(len(ids)))
				if len(ids) == 0 {
					continue
				}
				shown := ids
				if len(shown) > maxLoggedOrphans {
					shown = shown[:maxLoggedOrphans]
				}
				log.Warn("orphan files need linking or removal",
					zap.Int("count", len(ids)),
					zap.Strings("file_ids", shown),
				)
			}
		}
	}()
}
