package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobRecord is the audit row of one admitted message.
type JobRecord struct {
	ID string `gorm:"primaryKey;size:64"` // ULID

	UserID int64  `gorm:"index;not null"`
	Kind   string `gorm:"type:varchar(16);not null"` // text or photo

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	ErrorKind *string `gorm:"type:varchar(32)"`
	Error     *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (JobRecord) TableName() string { return "chat_jobs" }
