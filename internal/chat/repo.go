package chat

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the gorm-backed Persister, JobRecorder and diagnostics archive.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TurnRecord{}, &JobRecord{}, &Diagnostic{})
}

func (r *Repo) LoadTurns(ctx context.Context, userID int64) ([]Turn, error) {
	var recs []TurnRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("seq ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.Decode()
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// AppendTurn writes turn at seq, replacing any stale row left there.
func (r *Repo) AppendTurn(ctx context.Context, userID int64, seq int, turn Turn) error {
	rec, err := EncodeTurn(userID, seq, turn)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "kind", "content", "updated_at"}),
	}).Create(&rec).Error
}

func (r *Repo) TruncateTurns(ctx context.Context, userID int64, keep int) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND seq >= ?", userID, keep).
		Delete(&TurnRecord{}).Error
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *JobRecord) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*JobRecord, error) {
	var j JobRecord
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns the user's most recent jobs, newest first.
func (r *Repo) ListJobs(ctx context.Context, userID int64, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []JobRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *Repo) MarkJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobSucceeded,
			"error_kind": nil,
			"error":      nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, kind Kind, errMsg string) error {
	return r.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobFailed,
			"error_kind": string(kind),
			"error":      errMsg,
		}).Error
}

// InsertDiagnostic archives d once per job id. It reports whether a row was
// written; a redelivered record is a no-op.
func (r *Repo) InsertDiagnostic(ctx context.Context, d *Diagnostic) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
		Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListDiagnostics returns the user's archived diagnostics, newest first.
func (r *Repo) ListDiagnostics(ctx context.Context, userID int64, limit int) ([]Diagnostic, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Diagnostic
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
