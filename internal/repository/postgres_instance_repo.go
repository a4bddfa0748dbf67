package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rhodos/internal/model"
)

// PostgresInstanceRepo はプライマリDBのinstanceテーブルを扱うリポジトリ。
type PostgresInstanceRepo struct {
	db *sql.DB
}

// NewPostgresInstanceRepo はPostgresInstanceRepoを生成する。
func NewPostgresInstanceRepo(db *sql.DB) *PostgresInstanceRepo {
	return &PostgresInstanceRepo{db: db}
}

// FindByDomain はドメインでテナントを検索する。見つからない場合はnilを返す。
func (r *PostgresInstanceRepo) FindByDomain(ctx context.Context, domain string) (*model.Instance, error) {
	inst := &model.Instance{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, domain, db_name, db_host, db_port, db_user, db_password
		 FROM instance
		 WHERE domain = $1`,
		domain,
	).Scan(&inst.ID, &inst.Domain, &inst.DBName, &inst.DBHost, &inst.DBPort, &inst.DBUser, &inst.DBPassword)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance by domain: %w", err)
	}

	return inst, nil
}

// List は全テナントをドメイン順で返す。
func (r *PostgresInstanceRepo) List(ctx context.Context) ([]*model.Instance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, domain, db_name, db_host, db_port, db_user, db_password
		 FROM instance
		 ORDER BY domain`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		inst := &model.Instance{}
		if err := rows.Scan(&inst.ID, &inst.Domain, &inst.DBName, &inst.DBHost, &inst.DBPort, &inst.DBUser, &inst.DBPassword); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return out, nil
}

// Create はテナントを登録する。
func (r *PostgresInstanceRepo) Create(ctx context.Context, inst *model.Instance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO instance (id, domain, db_name, db_host, db_port, db_user, db_password)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inst.ID, inst.Domain, inst.DBName, inst.DBHost, inst.DBPort, inst.DBUser, inst.DBPassword,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create instance %q: %w", inst.Domain, ErrDuplicate)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// compile-time interface check
var _ InstanceRepository = (*PostgresInstanceRepo)(nil)
