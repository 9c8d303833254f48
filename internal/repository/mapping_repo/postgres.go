package mapping_repo

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type PostgresStore struct {
	db *sql.DB
}

// EnsureSchema creates the url_mappings table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(
		ctx,
		`
		CREATE TABLE IF NOT EXISTS url_mappings (
			identifier TEXT PRIMARY KEY,
			url        TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		`,
	)
	if err != nil {
		return &Error{Op: "migrate", Err: err}
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (string, bool, error) {
	if err := validate("get", id, ""); err != nil {
		return "", false, err
	}

	var url string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT url FROM url_mappings WHERE identifier = $1;`,
		id,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &Error{Op: "get", ID: id, Err: err}
	}

	return url, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, url string) error {
	if err := validate("put", id, url); err != nil {
		return err
	}

	_, err := s.db.ExecContext(
		ctx,
		`

		INSERT INTO url_mappings (
			identifier,
			url
		) VALUES (
			$1,
			$2
		)
		ON CONFLICT (identifier) DO UPDATE SET
			url = EXCLUDED.url,
			updated_at = now()
		WHERE url_mappings.url IS DISTINCT FROM EXCLUDED.url;
		`,
		id,
		url,
	)
	if err != nil {
		return &Error{Op: "put", ID: id, Err: err}
	}

	return nil
}

func (s *PostgresStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identifier, url FROM url_mappings;`)
	if err != nil {
		return nil, &Error{Op: "all", Err: err}
	}
	defer rows.Close()

	table := map[string]string{}
	for rows.Next() {
		var id, url string
		if err := rows.Scan(&id, &url); err != nil {
			return nil, &Error{Op: "all", Err: err}
		}
		table[id] = url
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "all", Err: err}
	}

	return table, nil
}
