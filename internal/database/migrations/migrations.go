package migrations

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/database/migrations")
}

var (
	registryMu sync.Mutex
	registry   []*gormigrate.Migration
)

type Migrations struct {
	Migrations  []*gormigrate.Migration
	GormOptions *gormigrate.Options
}

// New returns every registered migration, ordered by id.
func New() *Migrations {
	registryMu.Lock()
	list := append([]*gormigrate.Migration(nil), registry...)
	registryMu.Unlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return &Migrations{
		GormOptions: &gormigrate.Options{
			TableName:      "apiserver_migrations",
			IDColumnName:   "id",
			IDColumnSize:   40,
			UseTransaction: false,
		},
		Migrations: list,
	}
}

func (m *Migrations) Migrate(ctx context.Context, db *gorm.DB) error {
	ctx, span := tracer.Start(ctx, "Migrate")
	defer span.End()
	return gormigrate.New(db.WithContext(ctx), m.GormOptions, m.Migrations).Migrate()
}

func (m *Migrations) RollbackLast(ctx context.Context, db *gorm.DB) error {
	ctx, span := tracer.Start(ctx, "RollbackLast")
	defer span.End()

	gm := gormigrate.New(db.WithContext(ctx), m.GormOptions, m.Migrations)
	if err := gm.RollbackLast(); err != nil {
		return err
	}
	return m.deleteMigrationTableIfEmpty(db)
}

func (m *Migrations) deleteMigrationTableIfEmpty(db *gorm.DB) error {
	if !db.Migrator().HasTable(m.GormOptions.TableName) {
		return nil
	}
	result, err := m.CountMigrationsApplied(db)
	if err != nil {
		return err
	}
	if result == 0 {
		if err := db.Migrator().DropTable(m.GormOptions.TableName); err != nil {
			return fmt.Errorf("could not drop migration table: %w", err)
		}
	}
	return nil
}

func (m *Migrations) CountMigrationsApplied(db *gorm.DB) (int, error) {
	if !db.Migrator().HasTable(m.GormOptions.TableName) {
		return 0, nil
	}
	sql := fmt.Sprintf("SELECT count(%s) AS id FROM %s", m.GormOptions.IDColumnName, m.GormOptions.TableName)
	var count int
	if err := db.Raw(sql).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type MigrationAction func(tx *gorm.DB, apply bool) error

func callerOf(skip int) string {
	if _, file, no, ok := runtime.Caller(skip + 1); ok {
		return fmt.Sprintf("[ %s:%d ]", file, no)
	}
	return ""
}

func CreateTableAction(table interface{}) MigrationAction {
	caller := callerOf(1)
	return func(tx *gorm.DB, apply bool) error {
		if apply {
			if err := tx.AutoMigrate(table); err != nil {
				return errors.Wrap(err, caller)
			}
		} else {
			if err := tx.Migrator().DropTable(table); err != nil {
				return errors.Wrap(err, caller)
			}
		}
		return nil
	}
}

func ExecAction(applySql string, unapplySql string) MigrationAction {
	caller := callerOf(1)
	return func(tx *gorm.DB, apply bool) error {
		sql := unapplySql
		if apply {
			sql = applySql
		}
		if sql == "" {
			return nil
		}
		if err := tx.Exec(sql).Error; err != nil {
			return errors.Wrap(err, caller)
		}
		return nil
	}
}

// PostgresExecAction is an ExecAction that is skipped on sqlite, whose ALTER TABLE
// support does not cover constraints.
func PostgresExecAction(applySql string, unapplySql string) MigrationAction {
	exec := ExecAction(applySql, unapplySql)
	return func(tx *gorm.DB, apply bool) error {
		if tx.Dialector.Name() == "sqlite" {
			return nil
		}
		return exec(tx, apply)
	}
}

func FuncAction(applyFunc func(*gorm.DB) error, unapplyFunc func(*gorm.DB) error) MigrationAction {
	caller := callerOf(1)
	return func(tx *gorm.DB, apply bool) error {
		fn := unapplyFunc
		if apply {
			fn = applyFunc
		}
		if fn == nil {
			return nil
		}
		if err := fn(tx); err != nil {
			return errors.Wrap(err, caller)
		}
		return nil
	}
}

// CreateMigrationFromActions builds a migration out of actions and registers it.
// Rollback runs the actions in reverse.
func CreateMigrationFromActions(id string, actions ...MigrationAction) *gormigrate.Migration {
	migration := &gormigrate.Migration{
		ID: id,
		Migrate: func(tx *gorm.DB) error {
			for _, action := range actions {
				if err := action(tx, true); err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			for i := len(actions) - 1; i >= 0; i-- {
				if err := actions[i](tx, false); err != nil {
					return err
				}
			}
			return nil
		},
	}
	registryMu.Lock()
	registry = append(registry, migration)
	registryMu.Unlock()
	return migration
}
