package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

const (
	contentText      = "text"
	contentMultipart = "multipart"
)

// TurnRecord is the persisted form of one Turn. Seq is the turn's 0-based
// position in the user's history.
type TurnRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    int64     `gorm:"not null;index:uniq_chat_turn_seq,unique,priority:1" json:"user_id"`
	Seq       int       `gorm:"not null;index:uniq_chat_turn_seq,unique,priority:2" json:"seq"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Kind      string    `gorm:"type:varchar(16);not null" json:"kind"`
	Content   string    `gorm:"type:longtext;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TurnRecord) TableName() string { return "chat_turns" }

// EncodeTurn converts t for storage. Multi-part content is stored as JSON.
func EncodeTurn(userID int64, seq int, t Turn) (TurnRecord, error) {
	rec := TurnRecord{UserID: userID, Seq: seq, Role: string(t.Role)}
	switch c := t.Content.(type) {
	case ai.TextContent:
		rec.Kind = contentText
		rec.Content = c.Text
	case ai.MultiPartContent:
		b, err := json.Marshal(c.Parts)
		if err != nil {
			return TurnRecord{}, err
		}
		rec.Kind = contentMultipart
		rec.Content = string(b)
	case nil:
		rec.Kind = contentText
	default:
		return TurnRecord{}, fmt.Errorf("unsupported content type %T", t.Content)
	}
	return rec, nil
}

// Decode converts the record back into a Turn.
func (r TurnRecord) Decode() (Turn, error) {
	t := Turn{Role: ai.Role(r.Role)}
	switch r.Kind {
	case contentText:
		t.Content = ai.TextContent{Text: r.Content}
	case contentMultipart:
		var parts []ai.Part
		if err := json.Unmarshal([]byte(r.Content), &parts); err != nil {
			return Turn{}, fmt.Errorf("decode turn %d of user %d: %w", r.Seq, r.UserID, err)
		}
		t.Content = ai.MultiPartContent{Parts: parts}
	default:
		return Turn{}, fmt.Errorf("unknown content kind %q", r.Kind)
	}
	return t, nil
}

// Diagnostic is an archived DiagnosticRecord.
type Diagnostic struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"job_id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Turns     string    `gorm:"type:text;not null" json:"turns"`
	At        time.Time `gorm:"not null" json:"at"`
	CreatedAt time.Time `json:"created_at"`
}

func (Diagnostic) TableName() string { return "chat_diagnostics" }

func NewDiagnostic(rec DiagnosticRecord) (*Diagnostic, error) {
	b, err := json.Marshal(rec.Turns)
	if err != nil {
		return nil, err
	}
	return &Diagnostic{
		JobID:  rec.JobID,
		UserID: rec.UserID,
		Name:   rec.Name,
		Turns:  string(b),
		At:     rec.At,
	}, nil
}
