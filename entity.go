package chrono

import "time"

// Entity carries the audit timestamps shared by persistent records.
// It is embedded by the job entity so both timestamps travel with it
// through every store backend.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to the current UTC
// time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}
