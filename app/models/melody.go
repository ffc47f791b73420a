package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Melody is an audio loop a producer shares for collaboration.
type Melody struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProducerID      uint      `gorm:"not null;index" json:"producer_id"`
	Title           string    `gorm:"type:varchar(150);not null" json:"title" validate:"required,min=2,max=150"`
	Genre           string    `gorm:"type:varchar(50);index" json:"genre" validate:"max=50"`
	BPM             int       `gorm:"not null;default:0" json:"bpm" validate:"min=0,max=300"`
	MusicalKey      string    `gorm:"type:varchar(10)" json:"musical_key" validate:"max=10"`
	AudioKey        string    `gorm:"type:varchar(255);not null" json:"-"`
	SplitPercentage int       `gorm:"not null;default:50" json:"split_percentage" validate:"min=1,max=100"`
	DownloadCount   int64     `gorm:"not null;default:0" json:"download_count"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Melody) Validate() error {
	v := validator.New()

	return v.Struct(m)
}
