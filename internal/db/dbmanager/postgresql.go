package dbmanager

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
)

const postgresqlPingQuery = "SELECT current_database()"

func NewPostgresqlDb(cfg config.PoolConfig) (*sqlPool, error) {
	connConfig, err := pgx.ParseConfig(PostgresqlDSN(cfg))
	if err != nil {
		return nil, dberror.ErrInvalidConfig.MsgErr("unable to parse postgresql config", err)
	}
	db := stdlib.OpenDB(*connConfig)
	return newSqlPool(db, cfg.MaxPool, cfg.AcquireWait(), postgresqlPingQuery), nil
}

// PostgresqlDSN renders cfg as a postgres:// connection URL.
func PostgresqlDSN(cfg config.PoolConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String()
}

// classify annotates server-side errors with their SQLSTATE so the operator
// log shows why a connection was refused.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("sqlstate %s: %w", pgErr.Code, err)
	}
	return err
}
