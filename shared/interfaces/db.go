package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - минимальный интерфейс исполнителя запросов, который покрывает
// как *pgxpool.Pool, так и pgx.Tx. Репозитории принимают его, чтобы
// вызывающий код мог объединять операции в транзакцию.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
