package branch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/portal/internal/platform/db"
)

type repoPG struct{ conn db.DBTX }

func NewRepoPG(conn db.DBTX) Repository { return &repoPG{conn: conn} }

func (r *repoPG) List(ctx context.Context) ([]Branch, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT branch_id, branch_name, branch_address, branch_email, branch_hours, google_map_link
		FROM branch ORDER BY branch_name`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	branches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Branch, error) {
		var b Branch
		err := row.Scan(&b.ID, &b.Name, &b.Address, &b.Email, &b.Hours, &b.GoogleMapLink)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan branches: %w", err)
	}
	return branches, nil
}
