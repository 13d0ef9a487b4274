package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dataman/internal/dataman"
)

// ErrUnknownDatabase — для ключа базы не настроен пул.
var ErrUnknownDatabase = errors.New("no pool configured for database")

// Open поднимает pgxpool по URL и проверяет соединение.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Pools — по пулу на ключ базы ("tokens", "analytics", ...).
type Pools struct {
	pools map[string]*pgxpool.Pool
}

// OpenAll открывает пулы для всех баз из конфига. При ошибке уже открытые закрываются.
func OpenAll(ctx context.Context, databases map[string]string, log *zap.SugaredLogger) (*Pools, error) {
	p := &Pools{pools: make(map[string]*pgxpool.Pool, len(databases))}

	keys := make([]string, 0, len(databases))
	for k := range databases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		pool, err := Open(ctx, databases[key])
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("database %q: %w", key, err)
		}
		if log != nil {
			log.Infow("postgres pool ready", "database", key)
		}
		p.pools[normalizeKey(key)] = pool
	}
	return p, nil
}

// NewPools — из уже открытых пулов (тесты, testcontainers).
func NewPools(pools map[string]*pgxpool.Pool) *Pools {
	p := &Pools{pools: make(map[string]*pgxpool.Pool, len(pools))}
	for k, v := range pools {
		p.pools[normalizeKey(k)] = v
	}
	return p
}

func normalizeKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }

// Pool — пул для ключа базы.
func (p *Pools) Pool(database string) (*pgxpool.Pool, error) {
	pool, ok := p.pools[normalizeKey(database)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, database)
	}
	return pool, nil
}

// Querier — Pools как dataman.PoolSource.
func (p *Pools) Querier(database string) (dataman.Querier, error) {
	pool, err := p.Pool(database)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Keys — настроенные базы, отсортированно.
func (p *Pools) Keys() []string {
	out := make([]string, 0, len(p.pools))
	for k := range p.pools {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *Pools) Close() {
	for _, pool := range p.pools {
		pool.Close()
	}
}
