package db

import (
	"bettergist/pkg/domain"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Store is the durable mapping from identifier to snippet. Get reports
// domain.ErrSnippetNotFound for unknown or expired ids and a
// *domain.StoreError for anything else; Create reports
// domain.ErrIDConflict when the id is taken.
type Store interface {
	Create(ctx context.Context, s *domain.Snippet) error
	Get(ctx context.Context, id string) (*domain.Snippet, error)
	Count(ctx context.Context) (int, error)
	CleanupExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

const cleanupBatch = 100

func encodeFiles(files []domain.File) (string, error) {
	data, err := json.Marshal(files)
	if err != nil {
		return "", errors.Wrap(err, "encode files")
	}
	return string(data), nil
}
func decodeFiles(data string) ([]domain.File, error) {
	var files []domain.File
	if err := json.Unmarshal([]byte(data), &files); err != nil {
		return nil, errors.Wrap(err, "decode files")
	}
	return files, nil
}

// storeErr tags infrastructure failures. The breaker has already seen err.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewStoreError(op, err)
}
