// AngelaMos | 2026
// principal.go

package tenant

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Principal is the authenticated actor for one request. It is built by the
// authenticator and never modified afterwards.
type Principal struct {
	ID            string
	Email         string
	Role          policy.Role
	TenantID      *int64
	TenantStatus  Status
	TenantPlan    policy.PlanName
	TenantModules policy.ModuleSet
	Permissions   policy.Grants
	TokenVersion  int
}

func (p *Principal) HasTenant() bool {
	return p != nil && p.TenantID != nil
}

type Company struct {
	ID               int64      `db:"id"                 json:"id"`
	Name             string     `db:"name"               json:"name"`
	Status           Status     `db:"status"             json:"status"`
	Plan             string     `db:"plan"               json:"plan"`
	Modules          TextList   `db:"modules"            json:"modules"`
	StorageUsedBytes int64      `db:"storage_used_bytes" json:"storage_used_bytes"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	DeactivatedAt    *time.Time `db:"deactivated_at"     json:"deactivated_at,omitempty"`
}

func (c *Company) IsActive() bool {
	return c.Status == StatusActive && c.DeactivatedAt == nil
}

// TextList is a JSON array column of strings.
type TextList []string

func (l *TextList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("text list: unsupported type %T", src)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("text list: %w", err)
	}
	*l = out
	return nil
}

func (l TextList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
