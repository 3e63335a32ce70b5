package transfer

import (
	"context"
	"errors"
	"fmt"

	"fsgateway/internal/common/events"
	"fsgateway/internal/documents"
)

// BatchReport summarizes one batch run.
type BatchReport struct {
	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunDraftBatch processes pending draft documents. One credential check
// runs before the loop; a failed login aborts the whole batch, since
// every item would fail the same way. Items are isolated from each
// other: a rejection or transport error on one document is recorded and
// the loop moves on.
func (s *Service) RunDraftBatch(ctx context.Context) (*BatchReport, error) {
	docs, err := s.docs.ListDraftPending(ctx, s.config.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list draft documents: %w", err)
	}
	return s.runBatch(ctx, "drafts", docs)
}

// RunRetryBatch reprocesses documents previously parked with the
// insufficient-funds marker. The selection is re-checked against the
// account limit inside Execute; documents still over the limit stay
// parked.
func (s *Service) RunRetryBatch(ctx context.Context) (*BatchReport, error) {
	docs, err := s.docs.ListInsufficientFunds(ctx, s.config.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list insufficient-funds documents: %w", err)
	}
	return s.runBatch(ctx, "retries", docs)
}

func (s *Service) runBatch(ctx context.Context, kind string, docs []*documents.Document) (*BatchReport, error) {
	report := &BatchReport{Selected: len(docs)}

	if len(docs) == 0 {
		return report, nil
	}

	if err := s.checkCredentials(ctx); err != nil {
		return nil, fmt.Errorf("batch login check: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := s.Execute(ctx, doc)
		switch {
		case err == nil:
			report.Completed++
		case errors.Is(err, ErrInsufficientFunds):
			report.Skipped++
		default:
			// Rejections and transport errors alike: the outcome is
			// already persisted where it belongs, move on.
			report.Failed++
			s.logger.Error("batch item failed",
				"batch", kind,
				"document_id", doc.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("batch finished",
		"batch", kind,
		"selected", report.Selected,
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	s.publish(ctx, events.TypeBatchCompleted, report)

	return report, nil
}

// checkCredentials performs one login/logout round trip before a batch
// starts. Each item still logs in freshly inside Execute.
func (s *Service) checkCredentials(ctx context.Context) error {
	if _, err := s.client.Login(ctx); err != nil {
		return err
	}
	if err := s.client.Logout(ctx); err != nil {
		s.logger.Debug("fs logout failed", "error", err)
	}
	return nil
}
