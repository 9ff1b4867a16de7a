package model

import (
	"strings"
	"time"
)

// PositionSource tags how a position event was produced.
type PositionSource string

const (
	SourceANPREntry     PositionSource = "anpr_entry"
	SourceANPRExit      PositionSource = "anpr_exit"
	SourceRFIDEntry     PositionSource = "rfid_entry"
	SourceRFIDExit      PositionSource = "rfid_exit"
	SourceLevelUp       PositionSource = "level_up"
	SourceLevelDown     PositionSource = "level_down"
	SourceParkedCorrect PositionSource = "parked_correct"
	SourceParkedWrong   PositionSource = "parked_wrong"
)

// CheckpointSource returns the source tag for a move to the named checkpoint.
func CheckpointSource(name string) PositionSource {
	return PositionSource("checkpoint_" + strings.ToLower(name))
}

// Position is an append-only bus location event. The latest row per bus is its
// current position.
type Position struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	BusID     string         `gorm:"type:varchar(36);not null;index" json:"bus_id"`
	FloorID   string         `gorm:"type:varchar(36);not null" json:"floor_id"`
	X         float64        `gorm:"not null" json:"x"`
	Y         float64        `gorm:"not null" json:"y"`
	Source    PositionSource `gorm:"size:48;not null" json:"source"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`

	// Associations
	Bus   *Bus   `gorm:"foreignKey:BusID" json:"bus,omitempty"`
	Floor *Floor `gorm:"foreignKey:FloorID" json:"floor,omitempty"`
}

func (Position) TableName() string {
	return "bus_positions"
}
