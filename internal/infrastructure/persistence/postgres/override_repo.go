package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
)

// OverrideRepository implements roster.OverrideStore for PostgreSQL.
type OverrideRepository struct {
	conn *Connection
}

var _ roster.OverrideStore = (*OverrideRepository)(nil)

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(conn *Connection) *OverrideRepository {
	return &OverrideRepository{conn: conn}
}

// Load reads the full override mapping.
func (r *OverrideRepository) Load(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT observed_id, canonical_id
		FROM identity_overrides
		ORDER BY recorded_at
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var observed, canonical string
		if err := rows.Scan(&observed, &canonical); err != nil {
			return nil, fmt.Errorf("failed to scan override row: %w", err)
		}
		overrides[observed] = canonical
	}

	return overrides, rows.Err()
}

// Append persists newly recorded overrides in one transaction. ON CONFLICT
// DO NOTHING keeps the table append-only: a concurrent writer that already
// mapped an identifier wins, and this write becomes a no-op for that key.
func (r *OverrideRepository) Append(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO identity_overrides (observed_id, canonical_id)
			VALUES ($1, $2)
			ON CONFLICT (observed_id) DO NOTHING
		`
		for observed, canonical := range entries {
			if _, err := tx.Exec(ctx, query, observed, canonical); err != nil {
				return fmt.Errorf("failed to insert override %q: %w", observed, err)
			}
		}
		return nil
	})
}
