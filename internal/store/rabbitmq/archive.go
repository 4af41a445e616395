package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
)

type DiagnosticsArchive interface {
	InsertDiagnostic(ctx context.Context, d *chat.Diagnostic) (bool, error)
}

// ArchiveDiagnostics returns a Handler storing each DiagnosticRecord once.
func ArchiveDiagnostics(archive DiagnosticsArchive, log zerolog.Logger) Handler {
	return func(ctx context.Context, body []byte) error {
		var rec chat.DiagnosticRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			metrics.DiagnosticsArchived.WithLabelValues("bad_message").Inc()
			return fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if rec.JobID == "" {
			metrics.DiagnosticsArchived.WithLabelValues("bad_message").Inc()
			return fmt.Errorf("%w: missing job_id", ErrBadMessage)
		}

		d, err := chat.NewDiagnostic(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		inserted, err := archive.InsertDiagnostic(ctx, d)
		if err != nil {
			metrics.DiagnosticsArchived.WithLabelValues("error").Inc()
			return err
		}
		if !inserted {
			metrics.DiagnosticsArchived.WithLabelValues("duplicate").Inc()
			log.Debug().Str("job_id", rec.JobID).Msg("diagnostic already archived")
			return nil
		}
		metrics.DiagnosticsArchived.WithLabelValues("stored").Inc()
		log.Info().
			Str("job_id", rec.JobID).
			Int64("user_id", rec.UserID).
			Str("name", rec.Name).
			Strs("history", rec.Turns).
			Msg("diagnostic archived")
		return nil
	}
}
