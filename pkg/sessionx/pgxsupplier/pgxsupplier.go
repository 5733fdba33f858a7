// Package pgxsupplier implements sessionx.Supplier on top of a pgx
// connection pool.
package pgxsupplier

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/isabella232/pg-db-session/pkg/configmgr"
	"github.com/isabella232/pg-db-session/pkg/errorx"
	"github.com/isabella232/pg-db-session/pkg/logx"
	"github.com/isabella232/pg-db-session/pkg/sessionx"
)

// PgxSupplier - sessionx.Supplier backed by a pgxpool.Pool.
type PgxSupplier struct {
	pool *pgxpool.Pool
}

// New - wrap an existing pool.
func New(pool *pgxpool.Pool) *PgxSupplier {
	return &PgxSupplier{pool: pool}
}

// Setup - build a connection pool from the application config and wrap it.
func Setup(ctx context.Context, dbConf *configmgr.DatabaseConfig) (*PgxSupplier, error) {
	poolConfig, err := createConnectionConfiguration(dbConf)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "error creating new connection pool")
	}

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("Created new connection pool: DB=%s, HOST=%s, PORT=%d",
		pool.Config().ConnConfig.Database,
		pool.Config().ConnConfig.Host,
		pool.Config().ConnConfig.Port))

	return &PgxSupplier{pool: pool}, nil
}

func createConnectionConfiguration(dbConf *configmgr.DatabaseConfig) (*pgxpool.Config, error) {
	if dbConf == nil {
		return nil, errorx.NewDatabaseError("error creating connection pool config: database section is missing")
	}

	if dbConf.DBName == "" {
		return nil, errorx.NewDatabaseError("error creating connection pool config: dbName is empty")
	}

	if dbConf.User == "" {
		return nil, errorx.NewDatabaseError("error creating connection pool config: user is empty")
	}

	poolConfig, _ := pgxpool.ParseConfig("")
	poolConfig.ConnConfig.Host = dbConf.Host
	poolConfig.ConnConfig.Port = uint16(dbConf.Port)
	poolConfig.ConnConfig.Database = dbConf.DBName
	poolConfig.ConnConfig.User = dbConf.User
	poolConfig.ConnConfig.Password = dbConf.Password
	if dbConf.MaxPoolSize > 0 {
		poolConfig.MaxConns = int32(dbConf.MaxPoolSize)
	}

	return poolConfig, nil
}

// Acquire - take a connection from the pool.
//
// The returned release function hands the connection back to the pool; when
// called with a non-nil error it closes the underlying connection first so
// the pool discards it instead of recycling a broken one.
func (s *PgxSupplier) Acquire(ctx context.Context) (sessionx.Handle, sessionx.ReleaseFunc, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error acquiring connection from pool")
	}

	release := func(ctx context.Context, err error) {
		if err != nil {
			logx.GetLogger().LogWarning(ctx, "discarding broken connection", err)
			if closeErr := conn.Conn().Close(ctx); closeErr != nil {
				logx.GetLogger().LogError(ctx, "error closing broken connection", closeErr)
			}
		}
		conn.Release()
	}

	return &Handle{conn: conn}, release, nil
}

// Pool - the underlying pool.
func (s *PgxSupplier) Pool() *pgxpool.Pool {
	return s.pool
}

// Close - close the underlying pool.
func (s *PgxSupplier) Close() {
	s.pool.Close()
	logx.GetLogger().LogInfo(context.TODO(), "DB connection pool successfully closed")
}

// Handle - sessionx.Handle over one pooled pgx connection. Application code
// that needs the full pgx query surface can reach it through Conn.
type Handle struct {
	conn *pgxpool.Conn
}

// Exec - run a statement on the connection.
func (h *Handle) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := h.conn.Exec(ctx, sql, args...)
	if err != nil {
		return errorx.NewDatabaseErrorWrapper(err, "error executing query '%s'", sql)
	}

	return nil
}

// Conn - the underlying pooled connection.
func (h *Handle) Conn() *pgxpool.Conn {
	return h.conn
}
