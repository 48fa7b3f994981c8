package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/google/uuid"
)

const (
	eventSkip       = "skip"
	eventCompletion = "completion"
	eventRating     = "rating"
)

const cardColumns = `
	c.id, c.card_type, c.content, c.answer, c.priority,
	c.folder_id, f.name,
	c.skip_policy, c.easy_policy, c.good_policy, c.hard_policy,
	c.answer_revealed, c.interval_hours, c.next_due_at, c.archived, c.created_at,
	c.fingerprint`

const cardFrom = `FROM cards c LEFT JOIN folders f ON f.id = c.folder_id`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertCard stores a new card together with any history it already carries.
func (db *DB) InsertCard(ctx context.Context, c *card.Card) error {
	return db.insertCard(ctx, c, sql.NullInt64{})
}

// InsertSourcedCard stores a new card imported from the given source.
func (db *DB) InsertSourcedCard(ctx context.Context, c *card.Card, sourceID int64) error {
	return db.insertCard(ctx, c, sql.NullInt64{Int64: sourceID, Valid: true})
}

func (db *DB) insertCard(ctx context.Context, c *card.Card, sourceID sql.NullInt64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert for card %s: %w", c.ID(), err)
	}
	defer tx.Rollback()

	st := c.State()
	var folderID, fingerprint sql.NullString
	if st.Folder != nil {
		folderID = sql.NullString{String: st.Folder.ID.String(), Valid: true}
	}
	if st.Fingerprint != "" {
		fingerprint = sql.NullString{String: st.Fingerprint, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cards (
			id, card_type, content, answer, priority, folder_id,
			skip_policy, easy_policy, good_policy, hard_policy,
			answer_revealed, interval_hours, next_due_at, archived, created_at,
			fingerprint, source_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.ID.String(),
		st.Type.String(),
		st.Content,
		st.Answer,
		int(st.Priority),
		folderID,
		st.Policies.Skip.String(),
		st.Policies.Easy.String(),
		st.Policies.Good.String(),
		st.Policies.Hard.String(),
		st.AnswerRevealed,
		st.IntervalHours,
		toMillis(st.NextDueAt),
		st.Archived,
		toMillis(st.CreatedAt),
		fingerprint,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", st.ID, err)
	}

	if err := appendEvents(ctx, tx, st.ID, card.History{}, st.History); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit card %s: %w", st.ID, err)
	}
	return nil
}

// GetCard loads a card with its full history.
//
// History entries or policies with unknown identifiers are left out of the
// returned card. In that case the card is returned together with an error
// wrapping policy.ErrPolicyLookupFailure describing what was dropped.
func (db *DB) GetCard(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	return loadCard(ctx, db.conn, id)
}

// GetCardByFingerprint loads the card imported with the given fingerprint.
func (db *DB) GetCardByFingerprint(ctx context.Context, fingerprint string) (*card.Card, error) {
	var id uuid.UUID
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM cards WHERE fingerprint = ?`, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card with fingerprint %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card by fingerprint %s: %w", fingerprint, err)
	}
	return db.GetCard(ctx, id)
}

// UpdateCard applies fn to the stored card and persists the result in one
// transaction. Only scheduling state is written back, and only history
// entries fn appended are inserted. If fn fails nothing is written.
//
// As with GetCard, a non-nil error may accompany a non-nil card when stored
// entries were dropped during loading.
func (db *DB) UpdateCard(ctx context.Context, id uuid.UUID, fn func(*card.Card) error) (*card.Card, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update for card %s: %w", id, err)
	}
	defer tx.Rollback()

	c, diag := loadCard(ctx, tx, id)
	if c == nil {
		return nil, diag
	}
	before := c.History()

	if err := fn(c); err != nil {
		return nil, errors.Join(err, diag)
	}

	st := c.State()
	_, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET interval_hours = ?, next_due_at = ?, archived = ?, answer_revealed = ?
		WHERE id = ?
	`,
		st.IntervalHours,
		toMillis(st.NextDueAt),
		st.Archived,
		st.AnswerRevealed,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update card state for %s: %w", id, err)
	}
	if err := appendEvents(ctx, tx, id, before, st.History); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update for card %s: %w", id, err)
	}
	return c, diag
}

// Fetch runs q outside any transaction. The predicate, ordering and limit
// run in SQL. Returned cards carry no history.
func (db *DB) Fetch(ctx context.Context, q queue.Query) ([]*card.Card, error) {
	return db.fetch(ctx, db.conn, q)
}

// Count implements queue.Source with a count-only query.
func (db *DB) Count(ctx context.Context, p queue.Predicate) (int, error) {
	return countCards(ctx, db.conn, p)
}

// Snapshot implements queue.Source. The fetch and the count share one
// read-only transaction and so see the same committed state.
func (db *DB) Snapshot(ctx context.Context, q queue.Query, total queue.Predicate) ([]*card.Card, int, error) {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	cards, err := db.fetch(ctx, tx, q)
	if err != nil {
		return nil, 0, err
	}
	n, err := countCards(ctx, tx, total)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to end snapshot: %w", err)
	}
	return cards, n, nil
}

func (db *DB) fetch(ctx context.Context, q queryer, query queue.Query) ([]*card.Card, error) {
	where, args := predicateSQL(query.Predicate)
	stmt := `SELECT ` + cardColumns + ` ` + cardFrom + where +
		` ORDER BY c.priority DESC, c.next_due_at ASC, c.id ASC`
	if query.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cards: %w", err)
	}
	defer rows.Close()

	var cards []*card.Card
	for rows.Next() {
		st, diags, err := scanCard(rows)
		if err != nil {
			db.logger.Warn("skipping unreadable card row", "error", err)
			continue
		}
		if len(diags) > 0 {
			db.logger.Warn("card row has unknown identifiers", "card_id", st.ID, "error", errors.Join(diags...))
		}
		cards = append(cards, card.Restore(st))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card rows: %w", err)
	}
	return cards, nil
}

func countCards(ctx context.Context, q queryer, p queue.Predicate) (int, error) {
	where, args := predicateSQL(p)
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards c`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

func predicateSQL(p queue.Predicate) (string, []any) {
	var conds []string
	var args []any
	if !p.IncludeArchived {
		conds = append(conds, "c.archived = 0")
	}
	if !p.DueBy.IsZero() {
		conds = append(conds, "c.next_due_at <= ?")
		args = append(args, toMillis(p.DueBy))
	}
	if len(p.Types) > 0 {
		for _, t := range p.Types {
			args = append(args, t.String())
		}
		conds = append(conds, "c.card_type IN ("+placeholders(len(p.Types))+")")
	}
	if len(p.Folders) > 0 {
		var ors []string
		var ids []any
		for _, id := range p.Folders {
			if id == queue.NoFolder {
				continue
			}
			ids = append(ids, id.String())
		}
		if len(ids) > 0 {
			ors = append(ors, "c.folder_id IN ("+placeholders(len(ids))+")")
			args = append(args, ids...)
		}
		if len(ids) < len(p.Folders) {
			ors = append(ors, "c.folder_id IS NULL")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// EnsureFolder returns the folder with the given name, creating it if needed.
func (db *DB) EnsureFolder(ctx context.Context, name string) (*card.Folder, error) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO folders (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert folder %s: %w", name, err)
	}

	f := &card.Folder{Name: name}
	if err := db.conn.QueryRowContext(ctx, `SELECT id FROM folders WHERE name = ?`, name).Scan(&f.ID); err != nil {
		return nil, fmt.Errorf("failed to find folder %s: %w", name, err)
	}
	return f, nil
}

// FindFolder returns the folder with the given name.
func (db *DB) FindFolder(ctx context.Context, name string) (*card.Folder, error) {
	f := &card.Folder{Name: name}
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM folders WHERE name = ?`, name).Scan(&f.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find folder %s: %w", name, err)
	}
	return f, nil
}

// ListFolders returns every folder ordered by name.
func (db *DB) ListFolders(ctx context.Context) ([]card.Folder, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name FROM folders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []card.Folder
	for rows.Next() {
		var f card.Folder
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func loadCard(ctx context.Context, q queryer, id uuid.UUID) (*card.Card, error) {
	row, err := q.QueryContext(ctx, `SELECT `+cardColumns+` `+cardFrom+` WHERE c.id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	defer row.Close()
	if !row.Next() {
		if err := row.Err(); err != nil {
			return nil, fmt.Errorf("failed to find card %s: %w", id, err)
		}
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	st, diags, err := scanCard(row)
	if err != nil {
		return nil, err
	}
	// Release the connection before the history query; the pool holds one.
	row.Close()

	history, histDiags, err := loadHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	st.History = history
	return card.Restore(st), errors.Join(append(diags, histDiags...)...)
}

// loadHistory returns the decoded history of a card and one diagnostic per
// dropped entry.
func loadHistory(ctx context.Context, q queryer, id uuid.UUID) (card.History, []error, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT kind, outcome, at FROM card_events WHERE card_id = ? ORDER BY id ASC`, id.String())
	if err != nil {
		return card.History{}, nil, fmt.Errorf("failed to load history for card %s: %w", id, err)
	}
	defer rows.Close()

	var h card.History
	var raw []card.RawRating
	var unknown []error
	for rows.Next() {
		var kind string
		var outcome sql.NullString
		var at int64
		if err := rows.Scan(&kind, &outcome, &at); err != nil {
			return card.History{}, nil, fmt.Errorf("failed to scan history row for card %s: %w", id, err)
		}
		switch kind {
		case eventSkip:
			h.Skips = append(h.Skips, fromMillis(at))
		case eventCompletion:
			h.Completions = append(h.Completions, fromMillis(at))
		case eventRating:
			raw = append(raw, card.RawRating{Outcome: outcome.String, At: fromMillis(at)})
		default:
			unknown = append(unknown, fmt.Errorf("%w: dropped event kind %q", policy.ErrPolicyLookupFailure, kind))
		}
	}
	if err := rows.Err(); err != nil {
		return card.History{}, nil, fmt.Errorf("failed to read history for card %s: %w", id, err)
	}

	ratings, err := card.DecodeRatings(raw)
	if err != nil {
		unknown = append(unknown, err)
	}
	h.Ratings = ratings
	return h, unknown, nil
}

// appendEvents inserts the entries of after that are not in before.
func appendEvents(ctx context.Context, q queryer, id uuid.UUID, before, after card.History) error {
	insert := func(kind string, outcome sql.NullString, at time.Time) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO card_events (card_id, kind, outcome, at) VALUES (?, ?, ?, ?)`,
			id.String(), kind, outcome, toMillis(at))
		if err != nil {
			return fmt.Errorf("failed to append %s event for card %s: %w", kind, id, err)
		}
		return nil
	}

	for _, at := range after.Skips[len(before.Skips):] {
		if err := insert(eventSkip, sql.NullString{}, at); err != nil {
			return err
		}
	}
	for _, at := range after.Completions[len(before.Completions):] {
		if err := insert(eventCompletion, sql.NullString{}, at); err != nil {
			return err
		}
	}
	for _, r := range after.Ratings[len(before.Ratings):] {
		if err := insert(eventRating, sql.NullString{String: r.Outcome.String(), Valid: true}, r.At); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanCard reads one row selected with cardColumns. Unknown policy names are
// left as zero strengths and reported as diagnostics.
func scanCard(s scanner) (card.State, []error, error) {
	var (
		st                     card.State
		typ                    string
		priority               int
		folderID, folderName   sql.NullString
		skip, easy, good, hard string
		nextDue, created       int64
		fingerprint            sql.NullString
	)
	err := s.Scan(
		&st.ID, &typ, &st.Content, &st.Answer, &priority,
		&folderID, &folderName,
		&skip, &easy, &good, &hard,
		&st.AnswerRevealed, &st.IntervalHours, &nextDue, &st.Archived, &created,
		&fingerprint,
	)
	if err != nil {
		return card.State{}, nil, fmt.Errorf("failed to scan card row: %w", err)
	}

	st.Type, err = card.ParseType(typ)
	if err != nil {
		return card.State{}, nil, fmt.Errorf("card %s: %w", st.ID, err)
	}
	st.Priority = card.Priority(priority)
	st.NextDueAt = fromMillis(nextDue)
	st.CreatedAt = fromMillis(created)
	st.Fingerprint = fingerprint.String
	if folderID.Valid {
		fid, err := uuid.Parse(folderID.String)
		if err != nil {
			return card.State{}, nil, fmt.Errorf("card %s has malformed folder id: %w", st.ID, err)
		}
		st.Folder = &card.Folder{ID: fid, Name: folderName.String}
	}

	var diags []error
	parse := func(name string) policy.Strength {
		s, err := policy.ParseStrength(name)
		if err != nil {
			diags = append(diags, fmt.Errorf("card %s: %w", st.ID, err))
		}
		return s
	}
	st.Policies = card.Policies{
		Skip: parse(skip),
		Easy: parse(easy),
		Good: parse(good),
		Hard: parse(hard),
	}
	return st, diags, nil
}
