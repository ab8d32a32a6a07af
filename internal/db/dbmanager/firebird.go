package dbmanager

import (
	"database/sql"
	"net"
	"net/url"
	"strconv"

	_ "github.com/nakagami/firebirdsql"

	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
)

const (
	firebirdDriverName = "firebirdsql"
	firebirdPingQuery  = "SELECT rdb$get_context('SYSTEM', 'DB_NAME') FROM rdb$database"
)

func NewFirebirdDb(cfg config.PoolConfig) (*sqlPool, error) {
	db, err := sql.Open(firebirdDriverName, FirebirdDSN(cfg))
	if err != nil {
		return nil, dberror.ErrInvalidConfig.MsgErr("unable to open firebird pool", err)
	}
	return newSqlPool(db, cfg.MaxPool, cfg.AcquireWait(), firebirdPingQuery), nil
}

// FirebirdDSN renders cfg in the user:password@host:port/database form. The
// driver parses the DSN as a URL, so credentials and the database path are
// percent-escaped.
func FirebirdDSN(cfg config.PoolConfig) string {
	userinfo := url.UserPassword(cfg.User, cfg.Password).String()
	path := (&url.URL{Path: cfg.Database}).EscapedPath()
	return userinfo + "@" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)) + "/" + path
}
