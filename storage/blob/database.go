package blob

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// chunkSize keeps individual rows comfortably under the TOAST threshold
// while avoiding excessive row counts for typical avatar sizes.
const chunkSize = 255 * 1024

// DatabaseStore persists blobs in Postgres, content split into fixed-size
// chunks (blob_file + blob_chunk tables).
type DatabaseStore struct {
	db *sqlx.DB
}

var _ core.BlobStore = (*DatabaseStore)(nil) // interface compliance check

func NewDatabaseStore(db *sqlx.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

type blobFileRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	Metadata    []byte    `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r blobFileRow) unpack() core.BlobInfo {
	info := core.BlobInfo{
		ID:          r.ID,
		Name:        r.Name,
		ContentType: r.ContentType,
		Size:        r.Size,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &info.Metadata)
	}
	return info
}

func (st *DatabaseStore) Put(ctx context.Context, r io.Reader, name, contentType string, metadata map[string]string) (core.BlobInfo, error) {
	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "marshaling blob metadata")
	}

	tx, err := st.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "beginning blob tx")
	}
	defer tx.Rollback() //nolint:errcheck

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO blob_file (id, name, content_type, size, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $5)`,
		id, name, contentType, rawMeta, now,
	)
	if err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "inserting blob file")
	}

	var size int64
	buf := make([]byte, chunkSize)
	for n := 0; ; n++ {
		read, rerr := io.ReadFull(r, buf)
		if read > 0 {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO blob_chunk (file_id, n, data) VALUES ($1, $2, $3)`,
				id, n, buf[:read],
			)
			if err != nil {
				return core.BlobInfo{}, errors.Wrap(err, "inserting blob chunk")
			}
			size += int64(read)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return core.BlobInfo{}, errors.Wrap(rerr, "reading blob content")
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE blob_file SET size = $1 WHERE id = $2`, size, id); err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "updating blob size")
	}
	if err = tx.Commit(); err != nil {
		return core.BlobInfo{}, errors.Wrap(err, "committing blob tx")
	}

	return core.BlobInfo{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}, nil
}

func (st *DatabaseStore) Open(ctx context.Context, id string) (io.ReadCloser, core.BlobInfo, error) {
	var row blobFileRow
	err := st.db.GetContext(ctx, &row, `SELECT * FROM blob_file WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.BlobInfo{}, core.ErrBlobNotFound
		}
		return nil, core.BlobInfo{}, errors.Wrap(err, "getting blob file")
	}

	var chunks [][]byte
	err = st.db.SelectContext(ctx, &chunks, `SELECT data FROM blob_chunk WHERE file_id = $1 ORDER BY n`, id)
	if err != nil {
		return nil, core.BlobInfo{}, errors.Wrap(err, "getting blob chunks")
	}
	return io.NopCloser(bytes.NewReader(bytes.Join(chunks, nil))), row.unpack(), nil
}

func (st *DatabaseStore) Delete(ctx context.Context, id string) error {
	// chunks go via ON DELETE CASCADE
	res, err := st.db.ExecContext(ctx, `DELETE FROM blob_file WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting blob file")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrBlobNotFound
	}
	return nil
}

func (st *DatabaseStore) Walk(ctx context.Context, fn func(core.BlobInfo) error) error {
	var rows []blobFileRow
	err := st.db.SelectContext(ctx, &rows, `SELECT * FROM blob_file ORDER BY created_at`)
	if err != nil {
		return errors.Wrap(err, "listing blob files")
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row.unpack()); err != nil {
			return err
		}
	}
	return nil
}
