package db

import (
	"context"
)

const getAggregate = `SELECT owner, encrypted_total, updated_at FROM aggregates WHERE owner = ?`

func (q *Queries) GetAggregate(ctx context.Context, owner string) (Aggregate, error) {
	row := q.db.QueryRowContext(ctx, getAggregate, owner)
	var i Aggregate
	err := row.Scan(&i.Owner, &i.EncryptedTotal, &i.UpdatedAt)
	return i, err
}

const upsertAggregate = `
INSERT INTO aggregates (owner, encrypted_total, updated_at) VALUES (?, ?, ?)
ON CONFLICT (owner) DO UPDATE SET encrypted_total = excluded.encrypted_total, updated_at = excluded.updated_at`

func (q *Queries) UpsertAggregate(ctx context.Context, arg Aggregate) error {
	_, err := q.db.ExecContext(ctx, upsertAggregate, arg.Owner, arg.EncryptedTotal, arg.UpdatedAt)
	return err
}

const nextSubmissionID = `SELECT COALESCE(MAX(id), 0) + 1 FROM submissions`

func (q *Queries) NextSubmissionID(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, nextSubmissionID)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertSubmission = `
INSERT INTO submissions (id, owner, result_hash, result_ref, public_score, encrypted_score, submitted_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSubmission(ctx context.Context, arg Submission) error {
	_, err := q.db.ExecContext(ctx, insertSubmission,
		arg.ID,
		arg.Owner,
		arg.ResultHash,
		arg.ResultRef,
		arg.PublicScore,
		arg.EncryptedScore,
		arg.SubmittedAt,
	)
	return err
}

const getSubmission = `
SELECT id, owner, result_hash, result_ref, public_score, encrypted_score, submitted_at
FROM submissions WHERE id = ?`

func (q *Queries) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	row := q.db.QueryRowContext(ctx, getSubmission, id)
	var i Submission
	err := row.Scan(
		&i.ID,
		&i.Owner,
		&i.ResultHash,
		&i.ResultRef,
		&i.PublicScore,
		&i.EncryptedScore,
		&i.SubmittedAt,
	)
	return i, err
}

const countSubmissions = `SELECT COUNT(*) FROM submissions`

func (q *Queries) CountSubmissions(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countSubmissions)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const countSubmissionsByOwner = `SELECT COUNT(*) FROM submissions WHERE owner = ?`

func (q *Queries) CountSubmissionsByOwner(ctx context.Context, owner string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countSubmissionsByOwner, owner)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const getPublicStats = `
SELECT owner, games_played, total_public_score, max_single_public_score, last_played_at
FROM public_stats WHERE owner = ?`

func (q *Queries) GetPublicStats(ctx context.Context, owner string) (PublicStat, error) {
	row := q.db.QueryRowContext(ctx, getPublicStats, owner)
	var i PublicStat
	err := row.Scan(
		&i.Owner,
		&i.GamesPlayed,
		&i.TotalPublicScore,
		&i.MaxSinglePublicScore,
		&i.LastPlayedAt,
	)
	return i, err
}

const upsertPublicStats = `
INSERT INTO public_stats (owner, games_played, total_public_score, max_single_public_score, last_played_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (owner) DO UPDATE SET
    games_played = excluded.games_played,
    total_public_score = excluded.total_public_score,
    max_single_public_score = excluded.max_single_public_score,
    last_played_at = excluded.last_played_at`

func (q *Queries) UpsertPublicStats(ctx context.Context, arg PublicStat) error {
	_, err := q.db.ExecContext(ctx, upsertPublicStats,
		arg.Owner,
		arg.GamesPlayed,
		arg.TotalPublicScore,
		arg.MaxSinglePublicScore,
		arg.LastPlayedAt,
	)
	return err
}

const badgeClaimExists = `SELECT EXISTS (SELECT 1 FROM badge_claims WHERE badge_id = ? AND owner = ?)`

func (q *Queries) BadgeClaimExists(ctx context.Context, badgeID int64, owner string) (bool, error) {
	row := q.db.QueryRowContext(ctx, badgeClaimExists, badgeID, owner)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const insertBadgeClaim = `INSERT INTO badge_claims (badge_id, owner, claimed_at) VALUES (?, ?, ?)`

func (q *Queries) InsertBadgeClaim(ctx context.Context, arg BadgeClaim) error {
	_, err := q.db.ExecContext(ctx, insertBadgeClaim, arg.BadgeID, arg.Owner, arg.ClaimedAt)
	return err
}

const listBadgeClaimsByOwner = `SELECT badge_id, owner, claimed_at FROM badge_claims WHERE owner = ? ORDER BY badge_id`

func (q *Queries) ListBadgeClaimsByOwner(ctx context.Context, owner string) ([]BadgeClaim, error) {
	rows, err := q.db.QueryContext(ctx, listBadgeClaimsByOwner, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BadgeClaim
	for rows.Next() {
		var i BadgeClaim
		if err := rows.Scan(&i.BadgeID, &i.Owner, &i.ClaimedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const grantACL = `INSERT OR IGNORE INTO acl (handle, account) VALUES (?, ?)`

func (q *Queries) GrantACL(ctx context.Context, handle []byte, account string) error {
	_, err := q.db.ExecContext(ctx, grantACL, handle, account)
	return err
}

const aclExists = `SELECT EXISTS (SELECT 1 FROM acl WHERE handle = ? AND account = ?)`

func (q *Queries) ACLExists(ctx context.Context, handle []byte, account string) (bool, error) {
	row := q.db.QueryRowContext(ctx, aclExists, handle, account)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const insertEvent = `
INSERT INTO events (kind, owner, submission_id, result_hash, result_ref, public_score, badge_id, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertEvent(ctx context.Context, arg Event) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertEvent,
		arg.Kind,
		arg.Owner,
		arg.SubmissionID,
		arg.ResultHash,
		arg.ResultRef,
		arg.PublicScore,
		arg.BadgeID,
		arg.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const listEvents = `
SELECT seq, kind, owner, submission_id, result_hash, result_ref, public_score, badge_id, timestamp
FROM events WHERE seq > ? ORDER BY seq LIMIT ?`

func (q *Queries) ListEvents(ctx context.Context, afterSeq int64, limit int64) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, listEvents, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Event
	for rows.Next() {
		var i Event
		if err := rows.Scan(
			&i.Seq,
			&i.Kind,
			&i.Owner,
			&i.SubmissionID,
			&i.ResultHash,
			&i.ResultRef,
			&i.PublicScore,
			&i.BadgeID,
			&i.Timestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertReceipt = `
INSERT INTO receipts (tx_id, kind, sender, submission_id, badge_id, confirmed_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertReceipt(ctx context.Context, arg Receipt) error {
	_, err := q.db.ExecContext(ctx, insertReceipt,
		arg.TxID,
		arg.Kind,
		arg.Sender,
		arg.SubmissionID,
		arg.BadgeID,
		arg.ConfirmedAt,
	)
	return err
}

const getReceipt = `
SELECT tx_id, kind, sender, submission_id, badge_id, confirmed_at
FROM receipts WHERE tx_id = ?`

func (q *Queries) GetReceipt(ctx context.Context, txID []byte) (Receipt, error) {
	row := q.db.QueryRowContext(ctx, getReceipt, txID)
	var i Receipt
	err := row.Scan(
		&i.TxID,
		&i.Kind,
		&i.Sender,
		&i.SubmissionID,
		&i.BadgeID,
		&i.ConfirmedAt,
	)
	return i, err
}
