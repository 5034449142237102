package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse classification of an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Roles lists every supported role.
var Roles = []Role{RoleAdmin, RoleManager, RoleEmployee}

// ParseRole validates a role name. An empty value yields RoleEmployee.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.TrimSpace(strings.ToLower(raw))); r {
	case "":
		return RoleEmployee, nil
	case RoleAdmin, RoleManager, RoleEmployee:
		return r, nil
	default:
		return "", fmt.Errorf("%w: role must be one of admin, manager, employee", ErrValidation)
	}
}

// Account is a registered user of the office-management backend.
type Account struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	Role              Role
	Permissions       Matrix
	Active            bool
	LastLogin         *time.Time
	FailedLogins      int
	MFAEnabled        bool
	MFASecret         string
	ResetTokenHash    string
	ResetTokenExpires *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Permissions = a.Permissions.Clone()
	if a.LastLogin != nil {
		t := *a.LastLogin
		out.LastLogin = &t
	}
	if a.ResetTokenExpires != nil {
		t := *a.ResetTokenExpires
		out.ResetTokenExpires = &t
	}
	return &out
}

// BackupCode is a hashed single-use MFA recovery code.
type BackupCode struct {
	Hash   string
	Used   bool
	UsedAt *time.Time
}

// AccountUpdate carries a partial update. Nil fields are left untouched.
// PasswordHash is written only when PasswordChanged is set.
type AccountUpdate struct {
	Name            *string
	Email           *string
	PasswordChanged bool
	PasswordHash    string
	Role            *Role
	Permissions     Matrix
	Active          *bool
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && !u.PasswordChanged &&
		u.Role == nil && u.Permissions == nil && u.Active == nil
}

// Session is the outcome of a successful registration or login.
type Session struct {
	Account   *Account
	Token     string
	ExpiresAt time.Time
}

// LoginResult is returned by Login. When MFARequired is set Session is nil.
type LoginResult struct {
	Session        *Session
	MFARequired    bool
	AccountID      string
	BackupCodeUsed bool
}

// Enrollment holds the material shown to the user while setting up MFA.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	QRCode          string
}
