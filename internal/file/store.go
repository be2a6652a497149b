package file

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medleyhq/medley/internal/database"
)

// ErrNotFound is returned when the file a caller asked for does not exist.
// A removal racing another removal of the same id sees this too; the
// database's own serialization of delete-by-primary-key is the only mutual
// exclusion applied.
var ErrNotFound = errors.New("file does not exist")

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// SaveAll inserts the given records in a single bulk statement, assigning
// ids and timestamps to each beforehand. The provided transaction is the
// atomicity boundary - either every record is written or none are.
func (store *Store) SaveAll(tx *sqlx.Tx, files []*File) error {
	if len(files) == 0 {
		return nil
	}

	now := time.Now()
	for _, f := range files {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.CreatedAt = now
		f.UpdatedAt = now
	}

	if _, err := tx.NamedExec(`
		INSERT INTO files(id, path, file_type, duration, created_at, updated_at)
		VALUES(:id, :path, :file_type, :duration, :created_at, :updated_at)
	`, files); err != nil {
		return fmt.Errorf("failed to insert file batch: %w", err)
	}

	return nil
}

// Get fetches a single file record by id, returning ErrNotFound if no such
// record exists.
func (store *Store) Get(db database.Queryable, id uuid.UUID) (*File, error) {
	query, args, err := squirrel.
		Select("*").
		From("files").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select file query: %w", err)
	}

	var result File
	if err := db.Get(&result, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to select file %s: %w", id, err)
	}

	return &result, nil
}

// Delete removes the file record with the given id. Deleting a record which
// does not exist (including one already deleted) returns ErrNotFound.
func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(`DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DatabaseStore binds the stateless Store to a connected database manager,
// providing the transactional batch-save the lifecycle service requires.
type DatabaseStore struct {
	db    database.Manager
	store *Store
}

func NewDatabaseStore(db database.Manager) *DatabaseStore {
	return &DatabaseStore{db: db, store: NewStore()}
}

func (d *DatabaseStore) SaveAll(files []*File) error {
	return d.db.WrapTx(func(tx *sqlx.Tx) error {
		return d.store.SaveAll(tx, files)
	})
}

func (d *DatabaseStore) Get(id uuid.UUID) (*File, error) {
	return d.store.Get(d.db.GetSqlxDb(), id)
}

func (d *DatabaseStore) Delete(id uuid.UUID) error {
	return d.store.Delete(d.db.GetSqlxDb(), id)
}
