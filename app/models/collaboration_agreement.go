package models

import "time"

const (
	AgreementStatusActive  = "active"
	AgreementStatusRevoked = "revoked"
)

// CollaborationAgreement licenses a melody to a collaborator. TransactionID
// is public and used for verification.
type CollaborationAgreement struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	MelodyID        uint       `gorm:"not null;index:idx_agreement_melody_collaborator,priority:1" json:"melody_id"`
	ProducerID      uint       `gorm:"not null;index" json:"producer_id"`
	CollaboratorID  uint       `gorm:"not null;index:idx_agreement_melody_collaborator,priority:2" json:"collaborator_id"`
	SplitPercentage int        `gorm:"not null" json:"split_percentage"`
	Status          string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	TransactionID   string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"transaction_id"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *CollaborationAgreement) IsActive() bool {
	return a.Status == AgreementStatusActive
}

// LicenseRevocation is an append-only audit row written for every revoke.
type LicenseRevocation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AgreementID   uint      `gorm:"not null;index" json:"agreement_id"`
	TransactionID string    `gorm:"type:varchar(64);not null;index" json:"transaction_id"`
	ActorID       uint      `gorm:"not null" json:"actor_id"`
	Reason        string    `gorm:"type:text" json:"reason"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
