package branch

import "context"

// Branch is one clinic location. Optional columns are nil when unset.
type Branch struct {
	ID            int64   `json:"branch_id"`
	Name          string  `json:"branch_name"`
	Address       *string `json:"branch_address"`
	Email         *string `json:"branch_email"`
	Hours         *string `json:"branch_hours"`
	GoogleMapLink *string `json:"google_map_link"`
}

type Repository interface {
	List(ctx context.Context) ([]Branch, error)
}
