package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"chathub/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore keeps session records in a relational table keyed by the session
// identity tuple, with the full record stored as JSON alongside. An
// alternative to FileStore for deployments that already run a database.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects to the configured database and ensures the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var name string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		name = "sqlite3"
		if dsn == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
	case "mysql":
		name = "mysql"
		if dsn == "" {
			return nil, fmt.Errorf("mysql dsn must be provided")
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLStore{db: db, driver: name}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	var stmts []string
	switch s.driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				group_id TEXT NOT NULL,
				name TEXT NOT NULL,
				creator INTEGER NOT NULL,
				creation_time INTEGER NOT NULL,
				record TEXT NOT NULL,
				PRIMARY KEY (group_id, name, creator, creation_time)
			)`,
			`CREATE TABLE IF NOT EXISTS group_auth (
				group_id TEXT NOT NULL PRIMARY KEY,
				only_admin INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_group ON sessions(group_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				group_id VARCHAR(191) NOT NULL,
				name VARCHAR(191) NOT NULL,
				creator BIGINT NOT NULL,
				creation_time BIGINT NOT NULL,
				record MEDIUMTEXT NOT NULL,
				PRIMARY KEY (group_id, name, creator, creation_time),
				INDEX idx_sessions_group (group_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS group_auth (
				group_id VARCHAR(191) NOT NULL PRIMARY KEY,
				only_admin TINYINT(1) NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", s.driver, err)
		}
	}
	return nil
}

func (s *SQLStore) Save(rec models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	var stmt string
	switch s.driver {
	case "sqlite3":
		stmt = `INSERT OR REPLACE INTO sessions (group_id, name, creator, creation_time, record) VALUES (?, ?, ?, ?, ?)`
	case "mysql":
		stmt = `INSERT INTO sessions (group_id, name, creator, creation_time, record) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE record = VALUES(record)`
	}
	if _, err := s.db.Exec(stmt, rec.Group, rec.Name, rec.Creator, rec.CreationTime, string(data)); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(id models.SessionIdentity) error {
	_, err := s.db.Exec(
		`DELETE FROM sessions WHERE group_id = ? AND name = ? AND creator = ? AND creation_time = ?`,
		id.Group, id.Name, id.Creator, id.CreationTime,
	)
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadAll() ([]models.SessionRecord, error) {
	rows, err := s.db.Query(`SELECT record FROM sessions ORDER BY creation_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("load session records: %w", err)
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			log.Printf("skip corrupt session row: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) SaveGroupAuth(auth map[string]bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM group_auth`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear group auth: %w", err)
	}
	for gid, onlyAdmin := range auth {
		if _, err := tx.Exec(`INSERT INTO group_auth (group_id, only_admin) VALUES (?, ?)`, gid, onlyAdmin); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert group auth: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group auth: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadGroupAuth() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT group_id, only_admin FROM group_auth`)
	if err != nil {
		return nil, fmt.Errorf("load group auth: %w", err)
	}
	defer rows.Close()

	auth := make(map[string]bool)
	for rows.Next() {
		var gid string
		var onlyAdmin bool
		if err := rows.Scan(&gid, &onlyAdmin); err != nil {
			return nil, fmt.Errorf("scan group auth: %w", err)
		}
		auth[gid] = onlyAdmin
	}
	return auth, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
