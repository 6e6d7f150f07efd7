package storage

import (
	"context"

	"chainSync/internal/model"
)

// Storage is an export sink for event logs. Records are written the first time a
// log sees them; nothing is read back.
type Storage interface {
	PutEvents(ctx context.Context, records []model.EventRecord) error
	PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error
}
