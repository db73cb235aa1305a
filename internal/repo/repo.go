package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"nicheperq/internal/config"
	"nicheperq/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a SQLite unique-constraint error.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// --- owners ---

func (r Repo) InsertOwner(ctx context.Context, o domain.Owner) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO owners(id,name,plan,created_at) VALUES (?,?,?,?)`,
		o.ID, nullable(o.Name), o.Plan, o.CreatedAt)
	return err
}

func (r Repo) EnsureOwner(ctx context.Context, tx *sql.Tx, ownerID, plan, now string) error {
	if plan == "" {
		plan = "free"
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO owners(id,plan,created_at) VALUES (?,?,?)`, ownerID, plan, now)
	return err
}

func (r Repo) GetOwner(ctx context.Context, id string) (domain.Owner, error) {
	var o domain.Owner
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,plan,created_at FROM owners WHERE id=?`, id).
		Scan(&o.ID, &name, &o.Plan, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if name.Valid {
		o.Name = name.String
	}
	return o, err
}

// OwnerPlan resolves the owner's plan inside a tick. Looked up per invocation
// against the store; never cached across invocations.
func (r Repo) OwnerPlan(ctx context.Context, ownerID string) (string, error) {
	var plan string
	err := r.DB.QueryRowContext(ctx, `SELECT plan FROM owners WHERE id=?`, ownerID).Scan(&plan)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return plan, err
}

func (r Repo) UpdateOwnerPlan(ctx context.Context, ownerID, plan string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE owners SET plan=? WHERE id=?`, plan, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SingleOwner(ctx context.Context) (domain.Owner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),plan,created_at FROM owners`)
	if err != nil {
		return domain.Owner{}, err
	}
	defer rows.Close()
	var owners []domain.Owner
	for rows.Next() {
		var o domain.Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.Plan, &o.CreatedAt); err != nil {
			return domain.Owner{}, err
		}
		owners = append(owners, o)
	}
	if len(owners) == 0 {
		return domain.Owner{}, ErrNotFound
	}
	if len(owners) > 1 {
		return domain.Owner{}, errors.New("multiple owners exist; specify --owner")
	}
	return owners[0], nil
}

// --- owner configs ---

func (r Repo) UpsertOwnerConfig(ctx context.Context, ownerID string, cfg *config.Config) error {
	return upsertOwnerConfig(ctx, r.DB, nil, ownerID, cfg)
}

func (r Repo) UpsertOwnerConfigTx(ctx context.Context, tx *sql.Tx, ownerID string, cfg *config.Config) error {
	return upsertOwnerConfig(ctx, nil, tx, ownerID, cfg)
}

func upsertOwnerConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, ownerID string, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	cfg.Owner.ID = ownerID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO owner_configs(owner_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(owner_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, ownerID, string(payload), now, now)
	return err
}

func (r Repo) GetOwnerConfig(ctx context.Context, ownerID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM owner_configs WHERE owner_id=?`, ownerID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Owner.ID == "" {
		cfg.Owner.ID = ownerID
	}
	return &cfg, cfg.Validate()
}
