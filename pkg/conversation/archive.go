package conversation

import (
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/editorai/copilot-core/pkg/errors"
)

// Archive persists ended conversations to SQLite so session history
// survives editor restarts.
type Archive struct {
	db *sql.DB
	mu sync.Mutex

	initialized sync.Once
}

// NewArchive opens (or creates) the archive database at path. Use
// ":memory:" for an in-memory archive.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ArchiveFailed, "failed to open archive database"),
			errors.Fields{"path": path})
	}

	// A single connection keeps ":memory:" databases coherent across
	// calls; the archive is low-throughput anyway.
	db.SetMaxOpenConns(1)

	a := &Archive{db: db}
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureInitialized() error {
	var initErr error
	a.initialized.Do(func() {
		// WAL mode for better concurrency
		if _, err := a.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			initErr = errors.Wrap(err, errors.ArchiveFailed, "failed to enable WAL mode")
			return
		}

		query := `
        CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            agent_type TEXT NOT NULL,
            state TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            data TEXT NOT NULL
        );

        CREATE INDEX IF NOT EXISTS idx_conversations_agent_type
        ON conversations(agent_type);
        `

		if _, err := a.db.Exec(query); err != nil {
			initErr = errors.Wrap(err, errors.ArchiveFailed, "failed to initialize archive schema")
		}
	})
	return initErr
}

// Save upserts a conversation snapshot.
func (a *Archive) Save(conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ArchiveFailed, "failed to marshal conversation"),
			errors.Fields{"conversation_id": conv.ID})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	query := `
    INSERT INTO conversations (id, agent_type, state, created_at, updated_at, data)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        state = excluded.state,
        updated_at = excluded.updated_at,
        data = excluded.data;
    `
	if _, err := a.db.Exec(query, conv.ID, conv.AgentType, string(conv.State),
		conv.CreatedAt, conv.UpdatedAt, string(data)); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ArchiveFailed, "failed to save conversation"),
			errors.Fields{"conversation_id": conv.ID})
	}

	return nil
}

// Load retrieves an archived conversation by id.
func (a *Archive) Load(id string) (*Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var data string
	err := a.db.QueryRow("SELECT data FROM conversations WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ConversationNotFound, "conversation not in archive"),
			errors.Fields{"conversation_id": id})
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ArchiveFailed, "failed to query archive")
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, errors.Wrap(err, errors.ArchiveFailed, "failed to decode archived conversation")
	}
	return &conv, nil
}

// List returns archived conversation ids for an agent type, newest
// first. An empty agentType lists everything.
func (a *Archive) List(agentType string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := "SELECT id FROM conversations ORDER BY updated_at DESC"
	args := []interface{}{}
	if agentType != "" {
		query = "SELECT id FROM conversations WHERE agent_type = ? ORDER BY updated_at DESC"
		args = append(args, agentType)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ArchiveFailed, "failed to list archive")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ArchiveFailed, "failed to scan archive row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
