package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllocationStatus is the state of an allocation.
//
//	allocated -> parked | override_parked | completed_departed
//	parked -> override_parked | completed_departed
//	override_parked -> completed_departed
type AllocationStatus string

const (
	AllocationAllocated         AllocationStatus = "allocated"
	AllocationParked            AllocationStatus = "parked"
	AllocationExceptionWrongBay AllocationStatus = "exception_wrong_bay"
	AllocationOverrideParked    AllocationStatus = "override_parked"
	AllocationCompletedDeparted AllocationStatus = "completed_departed"
)

// OpenStatuses are the statuses of an allocation a bus currently holds.
var OpenStatuses = []AllocationStatus{AllocationAllocated, AllocationParked, AllocationOverrideParked}

// ClosableStatuses are closed by the exit lifecycle.
var ClosableStatuses = []AllocationStatus{
	AllocationAllocated,
	AllocationParked,
	AllocationExceptionWrongBay,
	AllocationOverrideParked,
}

// Priority reasons recorded on allocations.
const (
	PriorityManual         = "manual"
	PriorityChargingManual = "charging_manual"
	PriorityDefault        = "default"
	PriorityCharging       = "charging"
)

// Allocation links a bus to a bay. Allocations are never deleted.
type Allocation struct {
	ID             string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusID          string           `gorm:"type:varchar(36);not null;index" json:"bus_id"`
	BayID          string           `gorm:"type:varchar(36);not null;index" json:"bay_id"`
	OverrideBayID  *string          `gorm:"type:varchar(36);index" json:"override_bay_id"`
	Status         AllocationStatus `gorm:"size:32;not null;index" json:"status"`
	WrongAttempts  int              `gorm:"not null" json:"wrong_attempts"`
	PriorityReason string           `gorm:"size:64" json:"priority_reason"`
	CreatedAt      time.Time        `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	// Associations
	Bus         *Bus `gorm:"foreignKey:BusID" json:"bus,omitempty"`
	Bay         *Bay `gorm:"foreignKey:BayID" json:"bay,omitempty"`
	OverrideBay *Bay `gorm:"foreignKey:OverrideBayID" json:"override_bay,omitempty"`
}

func (a *Allocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// IsOpen reports whether the allocation still holds its bus.
func (a *Allocation) IsOpen() bool {
	for _, s := range OpenStatuses {
		if a.Status == s {
			return true
		}
	}
	return false
}
