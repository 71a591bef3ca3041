package dummyblob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
)

type entry struct {
	info core.BlobInfo
	data []byte
}

// Store is an in-memory BlobStore for tests.
type Store struct {
	mu    sync.RWMutex
	table map[string]*entry
}

var _ core.BlobStore = (*Store)(nil) // interface compliance check

func NewStore() *Store {
	return &Store{table: make(map[string]*entry)}
}

func (st *Store) Put(_ context.Context, r io.Reader, name, contentType string, metadata map[string]string) (core.BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.BlobInfo{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	info := core.BlobInfo{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
	st.table[info.ID] = &entry{info: info, data: data}
	return info, nil
}

func (st *Store) Open(_ context.Context, id string) (io.ReadCloser, core.BlobInfo, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ent, ok := st.table[id]
	if !ok {
		return nil, core.BlobInfo{}, core.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(ent.data)), ent.info, nil
}

func (st *Store) Delete(_ context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.table[id]; !ok {
		return core.ErrBlobNotFound
	}
	delete(st.table, id)
	return nil
}

func (st *Store) Walk(ctx context.Context, fn func(core.BlobInfo) error) error {
	st.mu.RLock()
	infos := make([]core.BlobInfo, 0, len(st.table))
	for _, ent := range st.table {
		infos = append(infos, ent.info)
	}
	st.mu.RUnlock()

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports blob presence; tests only.
func (st *Store) Exists(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.table[id]
	return ok
}

// Len reports the blob count; tests only.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.table)
}

// SetLastTouched back-dates a blob's timestamps; tests only.
func (st *Store) SetLastTouched(id string, t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ent, ok := st.table[id]; ok {
		ent.info.CreatedAt = t.UTC()
		ent.info.UpdatedAt = t.UTC()
	}
}
