package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BusStatus is the lifecycle position of a bus relative to the depot boundary.
type BusStatus string

const (
	BusOutside  BusStatus = "outside"
	BusEntering BusStatus = "entering"
	BusInside   BusStatus = "inside"
	BusLeaving  BusStatus = "leaving"
)

// Bus is identified by its normalized plate number. Buses are never deleted.
type Bus struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PlateNumber      string    `gorm:"uniqueIndex;size:32;not null" json:"plate_number"`
	Status           BusStatus `gorm:"size:16;not null" json:"status"`
	NeedsCharging    bool      `gorm:"not null" json:"needs_charging"`
	NeedsMaintenance bool      `gorm:"not null" json:"needs_maintenance"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (b *Bus) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BusOutside
	}
	return nil
}
