package repository

import (
	"context"
	"time"
)

// ReadStateRepository stores the per-(chat, participant) read high-water
// mark. MarkRead is monotonic: a mark older than the stored one is ignored,
// so racing calls can never move the mark backward.
type ReadStateRepository interface {
	MarkRead(ctx context.Context, chatID, participantID string, upTo time.Time) error
	GetLastRead(ctx context.Context, chatID, participantID string) (time.Time, error)
}
