// AngelaMos | 2026
// entity.go

package user

import (
	"time"

	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

// User is a company member. CompanyID is nil only for operators.
type User struct {
	ID           string          `db:"id"`
	CompanyID    *int64          `db:"company_id"`
	Email        string          `db:"email"`
	PasswordHash string          `db:"password_hash"`
	Name         string          `db:"name"`
	Role         string          `db:"role"`
	Permissions  tenant.TextList `db:"permissions"`
	IsActive     bool            `db:"is_active"`
	TokenVersion int             `db:"token_version"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	DeletedAt    *time.Time      `db:"deleted_at"`
}

func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// ParsedRole is empty for a role outside the closed set.
func (u *User) ParsedRole() policy.Role {
	r, err := policy.ParseRole(u.Role)
	if err != nil {
		return ""
	}
	return r
}
