package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"helix/domain"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Store persists the backend's entities in sqlite. Times are unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: sqlite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		current_sequence_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_call TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE TABLE IF NOT EXISTS sequences (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		role_name TEXT NOT NULL DEFAULT '',
		candidate_persona TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		sequence_id TEXT NOT NULL,
		step_number INTEGER NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		timing TEXT NOT NULL DEFAULT '',
		wait_time INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_sequence ON steps(sequence_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// migrateSchema adds columns missing from databases created by older builds
func (s *Store) migrateSchema() error {
	columns := []struct {
		table, column, ddl string
	}{
		{"messages", "tool_call", `ALTER TABLE messages ADD COLUMN tool_call TEXT`},
		{"steps", "wait_time", `ALTER TABLE steps ADD COLUMN wait_time INTEGER`},
	}

	for _, c := range columns {
		exists, err := s.columnExists(c.table, c.column)
		if err != nil {
			return fmt.Errorf("failed to check for %s.%s: %w", c.table, c.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(c.ddl); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func ts(nanos int64) domain.Timestamp {
	return domain.Timestamp{Time: time.Unix(0, nanos).UTC()}
}

// Sessions

// CurrentSession returns the user's most recently touched session, creating
// one if the user has none.
func (s *Store) CurrentSession(ctx context.Context, userID string) (*domain.Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return s.CreateSession(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return s.Session(ctx, id)
}

func (s *Store) CreateSession(ctx context.Context, userID string) (*domain.Session, error) {
	id := uuid.NewString()
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.Session(ctx, id)
}

// Session loads a session with its messages in insertion order.
func (s *Store) Session(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess             domain.Session
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, current_sequence_id, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.CurrentSequenceID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, sess.UpdatedAt = ts(created), ts(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, tool_call, created_at FROM messages WHERE session_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sess.Messages = []domain.ConversationEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, entry)
	}
	return &sess, rows.Err()
}

func (s *Store) SetCurrentSequence(ctx context.Context, sessionID, sequenceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET current_sequence_id = ?, updated_at = ? WHERE id = ?`,
		sequenceID, s.now().UnixNano(), sessionID)
	return err
}

// Messages

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.ConversationEntry, error) {
	var (
		e        domain.ConversationEntry
		role     string
		toolCall sql.NullString
		created  int64
	)
	if err := row.Scan(&e.ID, &role, &e.Content, &toolCall, &created); err != nil {
		return e, err
	}
	e.Role = domain.Role(role)
	e.Timestamp = ts(created)
	if toolCall.Valid && toolCall.String != "" {
		var tc domain.ToolInvocation
		if err := json.Unmarshal([]byte(toolCall.String), &tc); err != nil {
			return e, fmt.Errorf("message %s: bad tool_call: %w", e.ID, err)
		}
		e.ToolCall = &tc
	}
	return e, nil
}

func encodeToolCall(tc *domain.ToolInvocation) (sql.NullString, error) {
	if tc == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// AddMessage appends an entry to the session's log and touches the session.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role domain.Role, content string, tc *domain.ToolInvocation) (*domain.ConversationEntry, error) {
	toolCall, err := encodeToolCall(tc)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_call, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, string(role), content, toolCall, now); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Message(ctx, id)
}

// UpdateToolCall replaces the tool invocation on an existing entry.
func (s *Store) UpdateToolCall(ctx context.Context, messageID string, tc *domain.ToolInvocation) (*domain.ConversationEntry, error) {
	toolCall, err := encodeToolCall(tc)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET tool_call = ? WHERE id = ?`, toolCall, messageID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return s.Message(ctx, messageID)
}

func (s *Store) Message(ctx context.Context, id string) (*domain.ConversationEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, content, tool_call, created_at FROM messages WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Sequences

func (s *Store) ListSequences(ctx context.Context, userID string) ([]domain.OutreachSequence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sequences WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.OutreachSequence, 0, len(ids))
	for _, id := range ids {
		seq, err := s.Sequence(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *seq)
	}
	return out, nil
}

// Sequence loads a sequence with its steps in display order.
func (s *Store) Sequence(ctx context.Context, id string) (*domain.OutreachSequence, error) {
	var (
		seq              domain.OutreachSequence
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, company_name, role_name, candidate_persona, created_at, updated_at FROM sequences WHERE id = ?`, id).
		Scan(&seq.ID, &seq.Name, &seq.CompanyName, &seq.RoleName, &seq.CandidatePersona, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	seq.CreatedAt, seq.UpdatedAt = ts(created), ts(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_number, type, content, subject, timing, wait_time FROM steps WHERE sequence_id = ? ORDER BY step_number, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seq.Steps = []domain.OutreachStep{}
	for rows.Next() {
		var (
			step domain.OutreachStep
			kind string
			wait sql.NullInt64
		)
		if err := rows.Scan(&step.ID, &step.StepNumber, &kind, &step.Content, &step.Subject, &step.Timing, &wait); err != nil {
			return nil, err
		}
		step.Type = domain.StepKind(kind)
		if wait.Valid {
			step.WaitTime = domain.Int(int(wait.Int64))
		}
		seq.Steps = append(seq.Steps, step)
	}
	return &seq, rows.Err()
}

// CreateSequence inserts a sequence with the given steps. Step ids are
// assigned here; an empty name gets a default.
func (s *Store) CreateSequence(ctx context.Context, userID string, fields domain.SequencePatch, steps []domain.OutreachStep) (*domain.OutreachSequence, error) {
	seq := domain.OutreachSequence{Name: "New Outreach Sequence"}
	fields.Apply(&seq)

	id := uuid.NewString()
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (id, user_id, name, company_name, role_name, candidate_persona, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, seq.Name, seq.CompanyName, seq.RoleName, seq.CandidatePersona, now, now); err != nil {
		return nil, fmt.Errorf("failed to insert sequence: %w", err)
	}

	for _, step := range steps {
		var wait sql.NullInt64
		if step.WaitTime != nil {
			wait = sql.NullInt64{Int64: int64(*step.WaitTime), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (id, sequence_id, step_number, type, content, subject, timing, wait_time, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id, step.StepNumber, string(step.Type), step.Content, step.Subject, step.Timing, wait, now, now); err != nil {
			return nil, fmt.Errorf("failed to insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Sequence(ctx, id)
}

// UpdateSequence merges the set fields into the sequence.
func (s *Store) UpdateSequence(ctx context.Context, id string, fields domain.SequencePatch) (*domain.OutreachSequence, error) {
	seq, err := s.Sequence(ctx, id)
	if err != nil {
		return nil, err
	}
	fields.Apply(seq)

	_, err = s.db.ExecContext(ctx,
		`UPDATE sequences SET name = ?, company_name = ?, role_name = ?, candidate_persona = ?, updated_at = ? WHERE id = ?`,
		seq.Name, seq.CompanyName, seq.RoleName, seq.CandidatePersona, s.now().UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update sequence: %w", err)
	}
	return s.Sequence(ctx, id)
}

// UpdateStep merges the set fields into one step of a sequence and returns
// the whole sequence.
func (s *Store) UpdateStep(ctx context.Context, sequenceID, stepID string, fields domain.StepPatch) (*domain.OutreachSequence, error) {
	seq, err := s.Sequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	step, ok := seq.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	fields.Apply(&step)

	var wait sql.NullInt64
	if step.WaitTime != nil {
		wait = sql.NullInt64{Int64: int64(*step.WaitTime), Valid: true}
	}
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE steps SET type = ?, content = ?, subject = ?, timing = ?, wait_time = ?, updated_at = ? WHERE id = ?`,
		string(step.Type), step.Content, step.Subject, step.Timing, wait, now, stepID); err != nil {
		return nil, fmt.Errorf("failed to update step: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET updated_at = ? WHERE id = ?`, now, sequenceID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Sequence(ctx, sequenceID)
}

func (s *Store) DeleteSequence(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sequences WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE sequence_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET current_sequence_id = '' WHERE current_sequence_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Users

// User returns the profile for id, creating an empty one on first access.
func (s *Store) User(ctx context.Context, id string) (*domain.User, error) {
	var (
		u     domain.User
		prefs string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, company, role, preferences FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Company, &u.Role, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		now := s.now().UnixNano()
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return &domain.User{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	if prefs != "" && prefs != "{}" {
		if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
			return nil, fmt.Errorf("user %s: bad preferences: %w", id, err)
		}
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, fields domain.UserPatch) (*domain.User, error) {
	u, err := s.User(ctx, id)
	if err != nil {
		return nil, err
	}
	fields.Apply(u)

	prefs := []byte("{}")
	if u.Preferences != nil {
		if prefs, err = json.Marshal(u.Preferences); err != nil {
			return nil, err
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, company = ?, role = ?, preferences = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.Email, u.Company, u.Role, string(prefs), s.now().UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}
