package domain

import "time"

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleVendor   UserRole = "vendor"
	RoleAdmin    UserRole = "admin"
)

// User is owned by the credential store. The auth core reads it and only
// mutates the confirmation flag, the password hash and the lockout counters.
type User struct {
	ID                int64      `json:"id" gorm:"primaryKey"`
	Email             string     `json:"email" gorm:"size:256;uniqueIndex;not null"`
	PasswordHash      string     `json:"-" gorm:"not null"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Role              UserRole   `json:"role" gorm:"size:32;not null;default:customer"`
	EmailConfirmed    bool       `json:"email_confirmed" gorm:"not null;default:false"`
	FailedAccessCount int        `json:"-" gorm:"not null;default:0"`
	LockoutEnd        *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsLockedOut is a read-time check; an elapsed lockout needs no cleanup.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// Roles returns the roles claim carried by access tokens.
func (u *User) Roles() []string {
	if u.Role == "" {
		return []string{string(RoleCustomer)}
	}
	return []string{string(u.Role)}
}
