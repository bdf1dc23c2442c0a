package producer

import (
	"context"
	"errors"

	"golang-intel-service/internal/model"
)

// ErrSourceClosed is returned by Next once a source is exhausted or closed
var ErrSourceClosed = errors.New("source closed")

// Source yields producer records. Next blocks until a record is available,
// ctx is done, or the source fails.
type Source interface {
	Next(ctx context.Context) (model.Record, error)
	Close() error
}
