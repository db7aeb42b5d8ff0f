package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/shared"
)

// LeaseStatus is the lifecycle state of a lease
type LeaseStatus string

const (
	LeaseStatusActive     LeaseStatus = "active"
	LeaseStatusOngoing    LeaseStatus = "ongoing"
	LeaseStatusCurrent    LeaseStatus = "current"
	LeaseStatusTerminated LeaseStatus = "terminated"
	LeaseStatusExpired    LeaseStatus = "expired"
	// Set by the lease-management flows. Not active-like, so these bill only
	// while today falls inside the lease term.
	LeaseStatusPending        LeaseStatus = "pending"
	LeaseStatusPendingRenewal LeaseStatus = "pending_renewal"
)

// ActiveLikeLeaseStatuses are the statuses under which a lease is live
var ActiveLikeLeaseStatuses = []LeaseStatus{LeaseStatusActive, LeaseStatusOngoing, LeaseStatusCurrent}

// IsActiveLike reports whether the status denotes a live lease
func (s LeaseStatus) IsActiveLike() bool {
	switch s {
	case LeaseStatusActive, LeaseStatusOngoing, LeaseStatusCurrent:
		return true
	}
	return false
}

// IsClosed reports whether the lease can never be billed again
func (s LeaseStatus) IsClosed() bool {
	return s == LeaseStatusTerminated || s == LeaseStatusExpired
}

// Lease grants a vendor a stall for a monthly rent
type Lease struct {
	shared.BaseEntity
	VendorID    uuid.UUID
	StallID     uuid.UUID
	MonthlyRent decimal.Decimal
	Currency    string
	StartDate   time.Time
	EndDate     *time.Time
	Status      LeaseStatus
	Notes       string
}

// IsBillable reports whether an invoice should exist for this lease today.
// Closed leases never bill. Otherwise an active-like status is enough, and
// any other status bills while today falls inside [start, end].
func (l *Lease) IsBillable(today time.Time) bool {
	if l.Status.IsClosed() {
		return false
	}
	if l.Status.IsActiveLike() {
		return true
	}
	today = DateOf(today)
	if !l.StartDate.IsZero() && today.Before(DateOf(l.StartDate)) {
		return false
	}
	if l.EndDate != nil && today.After(DateOf(*l.EndDate)) {
		return false
	}
	return true
}

// Terminate closes the lease and appends a dated audit note
func (l *Lease) Terminate(now time.Time, reason string) error {
	if !l.Status.IsActiveLike() {
		return ErrLeaseInactive.WithMessage(fmt.Sprintf("Lease is %s and cannot be terminated", l.Status))
	}
	note := fmt.Sprintf("[%s] terminated: %s", DateOf(now).Format("2006-01-02"), reason)
	if strings.TrimSpace(l.Notes) == "" {
		l.Notes = note
	} else {
		l.Notes = l.Notes + "\n" + note
	}
	l.Status = LeaseStatusTerminated
	l.Touch(now)
	return nil
}

// StallStatus is the occupancy state of a stall
type StallStatus string

const (
	StallStatusAvailable StallStatus = "available"
	StallStatusOccupied  StallStatus = "occupied"
)

// Stall is a physical market stall
type Stall struct {
	shared.BaseEntity
	Code   string
	Status StallStatus
}

// Release marks the stall available again
func (s *Stall) Release(now time.Time) {
	s.Status = StallStatusAvailable
	s.Touch(now)
}

// VendorStatus is the account state of a vendor
type VendorStatus string

const (
	VendorStatusActive    VendorStatus = "active"
	VendorStatusSuspended VendorStatus = "suspended"
)

// Vendor is a market trader holding leases
type Vendor struct {
	shared.BaseEntity
	Name   string
	Email  string
	Status VendorStatus
}
