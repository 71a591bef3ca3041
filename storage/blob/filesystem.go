package blob

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

const metaExt = ".meta.json"

// fileMeta is the sidecar record kept next to each blob's content file.
// The content file's mtime doubles as BlobInfo.UpdatedAt.
type fileMeta struct {
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FileSystemStore persists blobs as flat files under a root directory,
// one content file and one metadata sidecar per blob.
type FileSystemStore struct {
	root string
}

var _ core.BlobStore = (*FileSystemStore)(nil) // interface compliance check

func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating blob root %s", root)
	}
	return &FileSystemStore{root: root}, nil
}

func (st *FileSystemStore) contentPath(id string) string { return filepath.Join(st.root, id) }
func (st *FileSystemStore) metaPath(id string) string    { return filepath.Join(st.root, id+metaExt) }

func (st *FileSystemStore) Put(ctx context.Context, r io.Reader, name, contentType string, metadata map[string]string) (core.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return core.BlobInfo{}, err
	}

	id := uuid.New().String()
	f, err := os.OpenFile(st.contentPath(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "creating blob file")
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(st.contentPath(id))
		return core.BlobInfo{}, errors.Wrap(err, "writing blob file")
	}

	meta := fileMeta{
		Name:        name,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}
	raw, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(st.metaPath(id), raw, 0644)
	}
	if err != nil {
		_ = os.Remove(st.contentPath(id))
		_ = os.Remove(st.metaPath(id))
		return core.BlobInfo{}, errors.Wrap(err, "writing blob metadata")
	}

	return core.BlobInfo{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   meta.CreatedAt,
		UpdatedAt:   meta.CreatedAt,
		Metadata:    metadata,
	}, nil
}

func (st *FileSystemStore) Open(ctx context.Context, id string) (io.ReadCloser, core.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.BlobInfo{}, err
	}

	info, err := st.stat(id)
	if err != nil {
		return nil, core.BlobInfo{}, err
	}
	f, err := os.Open(st.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.BlobInfo{}, core.ErrBlobNotFound
		}
		return nil, core.BlobInfo{}, errors.Wrap(err, "opening blob file")
	}
	return f, info, nil
}

func (st *FileSystemStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return core.ErrBlobNotFound
	}

	err := os.Remove(st.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrBlobNotFound
		}
		return errors.Wrap(err, "deleting blob file")
	}
	_ = os.Remove(st.metaPath(id)) // best effort
	return nil
}

func (st *FileSystemStore) Walk(ctx context.Context, fn func(core.BlobInfo) error) error {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		return errors.Wrap(err, "reading blob root")
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(entry.Name(), metaExt) {
			continue
		}
		info, err := st.stat(entry.Name())
		if err != nil {
			if errors.Cause(err) == core.ErrBlobNotFound {
				continue // deleted mid-walk
			}
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (st *FileSystemStore) stat(id string) (core.BlobInfo, error) {
	if !validID(id) {
		return core.BlobInfo{}, core.ErrBlobNotFound
	}

	fi, err := os.Stat(st.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return core.BlobInfo{}, core.ErrBlobNotFound
		}
		return core.BlobInfo{}, errors.Wrap(err, "stating blob file")
	}

	info := core.BlobInfo{
		ID:        id,
		Size:      fi.Size(),
		CreatedAt: fi.ModTime().UTC(),
		UpdatedAt: fi.ModTime().UTC(),
	}
	if raw, err := os.ReadFile(st.metaPath(id)); err == nil {
		var meta fileMeta
		if err = json.Unmarshal(raw, &meta); err == nil {
			info.Name = meta.Name
			info.ContentType = meta.ContentType
			info.Metadata = meta.Metadata
			if !meta.CreatedAt.IsZero() {
				info.CreatedAt = meta.CreatedAt
			}
		}
	}
	return info, nil
}

// validID rejects anything that could escape the root directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
