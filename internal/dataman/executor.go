package dataman

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"dataman/internal/jsonvalue"
	"dataman/internal/logging"
	"dataman/internal/metrics"
)

// ErrEmptyQuery — builder вернул пустой запрос (нет values/criteria); в БД не ходим.
var ErrEmptyQuery = errors.New("dataman: refusing to execute empty query (missing values or criteria)")

// Querier — то, что нужно от пула: *pgxpool.Pool подходит.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PoolSource выдаёт Querier по ключу базы.
type PoolSource interface {
	Querier(database string) (Querier, error)
}

// PoolFunc — адаптер функции к PoolSource.
type PoolFunc func(database string) (Querier, error)

func (f PoolFunc) Querier(database string) (Querier, error) { return f(database) }

// Executor — локальный Sender: строит SQL и выполняет его в пуле нужной базы.
type Executor struct {
	pools   PoolSource
	builder Builder
	log     *zap.SugaredLogger
}

func NewExecutor(pools PoolSource, builder Builder, log *zap.SugaredLogger) *Executor {
	return &Executor{pools: pools, builder: builder, log: logging.OrNop(log)}
}

// Send выполняет запрос и декодирует каждую json_row в jsonvalue.Value.
func (e *Executor) Send(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	op := string(req.Operation)

	q, err := e.builder.Build(req)
	if err != nil {
		metrics.ObserveQuery(req.Database, op, metrics.OutcomeError, started, 0)
		return Response{}, fmt.Errorf("build %s %s: %w", op, req.Table, err)
	}
	if q.IsEmpty() {
		metrics.ObserveQuery(req.Database, op, metrics.OutcomeEmpty, started, 0)
		e.log.Warnw("empty dataman query skipped", "operation", op, "table", req.Table)
		return Response{}, ErrEmptyQuery
	}

	db, err := e.pools.Querier(req.Database)
	if err != nil {
		metrics.ObserveQuery(req.Database, op, metrics.OutcomeError, started, 0)
		return Response{}, err
	}

	e.log.Debugw("[SQL]", "sql", q.SQL, "params", describeParams(q.Params))

	results, err := queryJSONRows(ctx, db, q)
	if err != nil {
		metrics.ObserveQuery(req.Database, op, metrics.OutcomeError, started, 0)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			e.log.Warnw("postgres rejected dataman query",
				"code", pgErr.Code, "message", pgErr.Message, "table", req.Table)
		}
		return Response{}, err
	}

	metrics.ObserveQuery(req.Database, op, metrics.OutcomeOK, started, len(results))
	return Response{Success: true, Results: results}, nil
}

func queryJSONRows(ctx context.Context, db Querier, q Query) ([]jsonvalue.Value, error) {
	rows, err := db.Query(ctx, q.SQL, q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	results := make([]jsonvalue.Value, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan json_row: %w", err)
		}
		v, err := jsonvalue.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("bad JSON from database: %w", err)
		}
		results = append(results, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return results, nil
}

func describeParams(binds []Bind) []any {
	out := make([]any, len(binds))
	for i, b := range binds {
		out[i] = b.Native()
	}
	return out
}
