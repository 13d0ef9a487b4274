package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"dataman/internal/logging"
	"dataman/internal/registry"
)

// Execer — *pgxpool.Pool, *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApplyDDL выполняет map[key]sql в порядке ключей. DDL идемпотентный (create ... if not exists).
func ApplyDDL(ctx context.Context, db Execer, ddl map[string]string, log *zap.SugaredLogger) error {
	log = logging.OrNop(log)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range sortedKeys(ddl) {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.Exec(ctx, sqlText); err != nil {
			// duplicate_object (42710), duplicate_table (42P07)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.Infow("DDL skipped (already exists)", "key", k, "message", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed (%s): %w", k, err)
		}
		log.Debugw("DDL applied", "key", k)
	}
	return nil
}

// Bootstrap — DDL реестра для каждой базы, для которой есть пул.
func Bootstrap(ctx context.Context, pools *Pools, reg *registry.Registry, log *zap.SugaredLogger) error {
	log = logging.OrNop(log)
	for _, db := range reg.Databases() {
		pool, err := pools.Pool(db)
		if err != nil {
			log.Warnw("bootstrap skipped: no pool", "database", db)
			continue
		}
		ddl, err := GenerateDDL(reg.TablesIn(db))
		if err != nil {
			return fmt.Errorf("generate DDL for %s: %w", db, err)
		}
		if err := ApplyDDL(ctx, pool, ddl, log); err != nil {
			return fmt.Errorf("bootstrap %s: %w", db, err)
		}
		log.Infow("schema bootstrapped", "database", db)
	}
	return nil
}
