// Package database はデータベース接続とマイグレーション管理を提供する。
// プライマリDBと各テナントDBは同じスキーマを持つ。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/sync/errgroup"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// MigrationTarget はマイグレーション対象のDB。
type MigrationTarget struct {
	Name string
	URL  string
}

// MigrateFunc は1つのDBにマイグレーションを適用する関数。
type MigrateFunc func(databaseURL string) error

// RunMigrationsAll は複数のDBに並行してマイグレーションを適用する。
// 同時実行数はlimitで制限する（0以下の場合は無制限）。
// 1つでも失敗した場合は最初のエラーを返すが、開始済みの他DBの処理は完了まで待つ。
func RunMigrationsAll(ctx context.Context, targets []MigrationTarget, limit int, run MigrateFunc) error {
	if run == nil {
		run = RunMigrations
	}

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, target := range targets {
		target := target
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := run(target.URL); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", target.Name, err)
			}
			slog.Info("migrations applied", slog.String("target", target.Name))
			return nil
		})
	}

	return g.Wait()
}
