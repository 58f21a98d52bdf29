package model

import (
	"time"

	"gorm.io/gorm"
)

type RepoStatus string

const (
	RepoStatusSuccess RepoStatus = "SUCCESS"
	RepoStatusPartial RepoStatus = "PARTIAL"
	RepoStatusFailed  RepoStatus = "FAILED"
)

type Run struct {
	gorm.Model
	RunID      string        `gorm:"not null;uniqueIndex" json:"run_id"`
	Manifest   string        `gorm:"not null" json:"manifest"`
	Store      string        `gorm:"not null" json:"store"`
	StartedAt  time.Time     `gorm:"not null" json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcomes   []RepoOutcome `gorm:"foreignKey:RunID;references:RunID" json:"outcomes,omitempty"`
}

type RepoOutcome struct {
	gorm.Model
	RunID       string     `gorm:"not null;index" json:"run_id"`
	Position    int        `gorm:"not null" json:"position"`
	URL         string     `gorm:"not null" json:"url"`
	GitFolder   string     `json:"git_folder,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	Status      RepoStatus `gorm:"not null" json:"status"`
	Synced      int        `json:"synced"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Ignored     int        `json:"ignored"`
	Bytes       int64      `json:"bytes"`
	ErrMsg      string     `json:"error,omitempty"`
}
