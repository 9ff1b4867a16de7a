package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gate reference checkpoint names.
const (
	CheckpointEntrance = "Entrance"
	CheckpointExit     = "Exit"
)

// Checkpoint is a named waypoint on a floor, unique per (floor, name).
type Checkpoint struct {
	ID      string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	FloorID string  `gorm:"type:varchar(36);not null;uniqueIndex:idx_checkpoint_floor_name" json:"floor_id"`
	Name    string  `gorm:"size:64;not null;uniqueIndex:idx_checkpoint_floor_name" json:"name"`
	X       float64 `gorm:"not null" json:"x"`
	Y       float64 `gorm:"not null" json:"y"`

	// Associations
	Floor *Floor `gorm:"foreignKey:FloorID" json:"floor,omitempty"`
}

func (c *Checkpoint) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
