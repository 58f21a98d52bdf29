package model

import "time"

// Fingerprint is the durable record of one successfully transferred file.
type Fingerprint struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	RepoID    string    `gorm:"not null;uniqueIndex:idx_repo_path" json:"repo_id"`
	Path      string    `gorm:"not null;uniqueIndex:idx_repo_path" json:"path"`
	Hash      string    `gorm:"not null" json:"hash"`
	RemoteID  string    `gorm:"not null" json:"remote_id"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
