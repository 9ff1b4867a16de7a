package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Floor is a depot level. Static reference data.
type Floor struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	LevelNumber int    `gorm:"uniqueIndex;not null" json:"level_number"`
}

func (f *Floor) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
