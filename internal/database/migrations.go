package database

import (
	_ "github.com/greenhouse-io/greenhouse/internal/database/migration_20251001_0000"
	_ "github.com/greenhouse-io/greenhouse/internal/database/migration_20251014_0000"
	"github.com/greenhouse-io/greenhouse/internal/database/migrations"
)

func Migrations() *migrations.Migrations {
	return migrations.New()
}
