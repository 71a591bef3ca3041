package profile

import (
	"github.com/trezcool/academia/core"
)

// NewServiceMock returns a Service whose superseded-blob deletion runs
// synchronously so tests can assert on the store contents right away.
func NewServiceMock(repo Repository, store core.BlobStore, logger core.Logger) Service {
	return &service{
		repo:        repo,
		store:       store,
		logger:      logger,
		syncCleanup: true,
	}
}
