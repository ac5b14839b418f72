package health

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
)

func Postgres(db *sql.DB) Checker { return db.PingContext }

// Redis выполняет PING.
func Redis(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}
