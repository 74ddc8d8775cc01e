package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbgorm"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type TransactionFunc func(
	ctx context.Context, fn func(tx *gorm.DB) error, opts ...*sql.TxOptions,
) error

// Serializable are the options used for transactions that rewrite many rows at once.
var Serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

func Silent(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{
		Logger: db.Logger.LogMode(logger.Silent),
	})
}

type Dialect int

const (
	DialectSqlLite Dialect = iota
	DialectPostgreSQL
	DialectCockroachDB
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgreSQL:
		return "postgresql"
	case DialectCockroachDB:
		return "cockroachdb"
	default:
		return "sqlite"
	}
}

func DetectDialect(db *gorm.DB) Dialect {
	version := ""
	_ = Silent(db).Raw("SELECT version()").Scan(&version).Error

	switch {
	case strings.HasPrefix(version, "PostgreSQL"):
		return DialectPostgreSQL
	case strings.HasPrefix(version, "CockroachDB"):
		return DialectCockroachDB
	default:
		return DialectSqlLite
	}
}

func GetTransactionFunc(db *gorm.DB) (TransactionFunc, Dialect, error) {
	dialect := DetectDialect(db)

	if dialect == DialectCockroachDB {
		return func(ctx context.Context, fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
			var o *sql.TxOptions = nil
			if len(opts) > 0 {
				o = opts[0]
			}
			return crdbgorm.ExecuteTx(ctx, db, o, fn)
		}, dialect, nil
	}

	return func(ctx context.Context, fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
		var o *sql.TxOptions = nil
		if len(opts) > 0 {
			o = opts[0]
		}
		// sqlite only knows serializable, and the driver rejects any explicit level.
		if dialect == DialectSqlLite {
			o = nil
		}
		return db.WithContext(ctx).Transaction(fn, o)
	}, dialect, nil
}
