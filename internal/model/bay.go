package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bay is a parking bay. IsAvailable must always equal CurrentBusID == nil.
type Bay struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BayCode       string    `gorm:"uniqueIndex;size:32;not null" json:"bay_code"`
	AreaCode      string    `gorm:"size:16;not null;index:idx_bay_area_lot" json:"area_code"`
	LotNumber     int       `gorm:"not null;index:idx_bay_area_lot" json:"lot_number"`
	FloorID       string    `gorm:"type:varchar(36);not null;index" json:"floor_id"`
	X             float64   `gorm:"not null" json:"x"`
	Y             float64   `gorm:"not null" json:"y"`
	IsChargingBay bool      `gorm:"not null" json:"is_charging_bay"`
	IsAvailable   bool      `gorm:"not null;index" json:"is_available"`
	CurrentBusID  *string   `gorm:"type:varchar(36);index" json:"current_bus_id"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Associations
	Floor      *Floor `gorm:"foreignKey:FloorID" json:"floor,omitempty"`
	CurrentBus *Bus   `gorm:"foreignKey:CurrentBusID" json:"current_bus,omitempty"`
}

func (b *Bay) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
