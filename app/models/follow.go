package models

import "time"

// ProducerFollow records that FollowerID follows ProducerID. The pair is unique.
type ProducerFollow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FollowerID uint      `gorm:"not null;index:ux_producer_follows_pair,unique,priority:1" json:"follower_id"`
	ProducerID uint      `gorm:"not null;index:ux_producer_follows_pair,unique,priority:2;index" json:"producer_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
