package db

import (
	"context"
)

const insertCiphertext = `INSERT INTO ciphertexts (handle, type, sealed, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertCiphertext(ctx context.Context, arg Ciphertext) error {
	_, err := q.db.ExecContext(ctx, insertCiphertext, arg.Handle, arg.Type, arg.Sealed, arg.CreatedAt)
	return err
}

const getCiphertext = `SELECT handle, type, sealed, created_at FROM ciphertexts WHERE handle = ?`

func (q *Queries) GetCiphertext(ctx context.Context, handle []byte) (Ciphertext, error) {
	row := q.db.QueryRowContext(ctx, getCiphertext, handle)
	var i Ciphertext
	err := row.Scan(&i.Handle, &i.Type, &i.Sealed, &i.CreatedAt)
	return i, err
}

const insertContent = `INSERT OR IGNORE INTO content (ref, hash, body, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertContent(ctx context.Context, arg Content) error {
	_, err := q.db.ExecContext(ctx, insertContent, arg.Ref, arg.Hash, arg.Body, arg.CreatedAt)
	return err
}

const getContent = `SELECT ref, hash, body, created_at FROM content WHERE ref = ?`

func (q *Queries) GetContent(ctx context.Context, ref string) (Content, error) {
	row := q.db.QueryRowContext(ctx, getContent, ref)
	var i Content
	err := row.Scan(&i.Ref, &i.Hash, &i.Body, &i.CreatedAt)
	return i, err
}

const getCapability = `SELECT key, value, updated_at FROM capabilities WHERE key = ?`

func (q *Queries) GetCapability(ctx context.Context, key string) (Capability, error) {
	row := q.db.QueryRowContext(ctx, getCapability, key)
	var i Capability
	err := row.Scan(&i.Key, &i.Value, &i.UpdatedAt)
	return i, err
}

const upsertCapability = `
INSERT INTO capabilities (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) UpsertCapability(ctx context.Context, arg Capability) error {
	_, err := q.db.ExecContext(ctx, upsertCapability, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}

const deleteCapability = `DELETE FROM capabilities WHERE key = ?`

func (q *Queries) DeleteCapability(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteCapability, key)
	return err
}
