package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

const lookupUserSQL = `SELECT username, password_hash, display_name FROM users WHERE username = $1`

// rowQuerier は pgxpool.Pool と pgxmock の共通部分です。
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory は PostgreSQL の users テーブルからユーザーを引きます。
type PostgresDirectory struct {
	pool rowQuerier
}

// NewPostgresDirectory は PostgresDirectory を作成します。
func NewPostgresDirectory(pool rowQuerier) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// OpenPostgresDirectory は接続プールを作成して PostgresDirectory を返します。
// 呼び出し側は返されたプールを Close する必要があります。
func OpenPostgresDirectory(ctx context.Context, databaseURL string) (*PostgresDirectory, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, oops.Code("USERS_DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, oops.Code("USERS_DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return NewPostgresDirectory(pool), pool, nil
}

// Lookup はユーザー名からユーザーを引きます。
func (d *PostgresDirectory) Lookup(ctx context.Context, username string) (User, error) {
	var user User
	err := d.pool.QueryRow(ctx, lookupUserSQL, username).
		Scan(&user.Username, &user.PasswordHash, &user.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, oops.Code("USERS_LOOKUP_FAILED").With("operation", "lookup user").Wrap(err)
	}
	return user, nil
}
