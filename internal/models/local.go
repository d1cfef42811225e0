package models

import "time"

// Credential is the locally stored bearer token for one backend URL.
type Credential struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	APIURL    string `gorm:"size:255;not null;uniqueIndex"`
	Token     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionRecord is one journaled operator action and its outcome.
type ActionRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Action    string `gorm:"size:32;not null;index"`
	Target    string `gorm:"size:128"`
	ProjectID string `gorm:"size:64;index"`
	OK        bool   `gorm:"default:false"`
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
}
