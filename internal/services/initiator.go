package services

import "github.com/example/storefront/internal/models"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Initiator is the identity behind a service call, as supplied by the identity provider.
type Initiator struct {
	UserID string
	Role   string
}

// System is the initiator used by background jobs.
func System() Initiator {
	return Initiator{UserID: models.SystemInitiator, Role: RoleSystem}
}

func (i Initiator) IsAdmin() bool { return i.Role == RoleAdmin }

// CanAccess reports whether the initiator owns the order or is an administrator.
func (i Initiator) CanAccess(order *models.Order) bool {
	return i.IsAdmin() || i.Role == RoleSystem || order.OwnedBy(i.UserID)
}
