package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS filter_rules (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT        NOT NULL DEFAULT '',
	source          TEXT        NOT NULL DEFAULT '',
	destination     TEXT        NOT NULL DEFAULT '',
	delivery_method TEXT        NOT NULL DEFAULT 'forward',
	is_active       BOOLEAN     NOT NULL DEFAULT TRUE,
	filters         JSONB,
	ai_config       JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS filter_rules_source_idx ON filter_rules (source);
`

const ruleColumns = `id, name, source, destination, delivery_method, is_active, filters, ai_config, created_at, updated_at`

// PostgresStore keeps rules in a single table with the tree and the AI
// settings as jsonb columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the rules table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListRules(ctx context.Context) ([]rules.FilterRule, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+ruleColumns+` FROM filter_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	result := make([]rules.FilterRule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return result, nil
}

func (p *PostgresStore) GetRule(ctx context.Context, id string) (*rules.FilterRule, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	r, err := scanRule(p.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM filter_rules WHERE id = $1`, n))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) CreateRule(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error) {
	r := draft.Clone()
	r.Normalize()
	filters, aiConfig, err := encodeJSONColumns(r)
	if err != nil {
		return rules.FilterRule{}, err
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO filter_rules (name, source, destination, delivery_method, is_active, filters, ai_config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+ruleColumns,
		r.Name, r.Source, r.Destination, string(r.DeliveryMethod), r.IsActive, filters, aiConfig)
	created, err := scanRule(row)
	if err != nil {
		return rules.FilterRule{}, fmt.Errorf("create rule: %w", err)
	}
	return created, nil
}

func (p *PostgresStore) UpdateRule(ctx context.Context, rule rules.FilterRule) (rules.FilterRule, error) {
	n, ok := parseID(rule.ID)
	if !ok {
		return rules.FilterRule{}, ErrNotFound
	}
	r := rule.Clone()
	r.Normalize()
	filters, aiConfig, err := encodeJSONColumns(r)
	if err != nil {
		return rules.FilterRule{}, err
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE filter_rules
		SET name = $2, source = $3, destination = $4, delivery_method = $5,
		    is_active = $6, filters = $7, ai_config = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+ruleColumns,
		n, r.Name, r.Source, r.Destination, string(r.DeliveryMethod), r.IsActive, filters, aiConfig)
	return scanRule(row)
}

func (p *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM filter_rules WHERE id = $1`, n)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}

func encodeJSONColumns(r rules.FilterRule) (filters, aiConfig []byte, err error) {
	if filters, err = json.Marshal(r.Filters); err != nil {
		return nil, nil, fmt.Errorf("encode filters: %w", err)
	}
	if aiConfig, err = json.Marshal(r.AIConfig); err != nil {
		return nil, nil, fmt.Errorf("encode ai_config: %w", err)
	}
	return filters, aiConfig, nil
}

// scanRule decodes one row selected with ruleColumns.
func scanRule(row pgx.Row) (rules.FilterRule, error) {
	var (
		r        rules.FilterRule
		id       int64
		delivery string
		filters  []byte
		aiConfig []byte
	)
	err := row.Scan(&id, &r.Name, &r.Source, &r.Destination, &delivery, &r.IsActive, &filters, &aiConfig, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.FilterRule{}, ErrNotFound
		}
		return rules.FilterRule{}, fmt.Errorf("scan rule: %w", err)
	}

	r.ID = strconv.FormatInt(id, 10)
	r.DeliveryMethod = rules.DeliveryMethod(delivery)
	if len(filters) > 0 && string(filters) != "null" {
		if err := json.Unmarshal(filters, &r.Filters); err != nil {
			return rules.FilterRule{}, fmt.Errorf("decode filters of rule %d: %w", id, err)
		}
	}
	if len(aiConfig) > 0 && string(aiConfig) != "null" {
		if err := json.Unmarshal(aiConfig, &r.AIConfig); err != nil {
			return rules.FilterRule{}, fmt.Errorf("decode ai_config of rule %d: %w", id, err)
		}
	}
	r.Normalize()
	return r, nil
}
