package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	keyActiveSession = "active_session_id"
	keyIsOpen        = "is_open"
	keyPanelHeight   = "panel_height"
)

// Tab is one persisted terminal tab
type Tab struct {
	ID         string
	TargetName string
	Title      string
	Position   int
	CreatedAt  time.Time
}

// Layout is the panel state restored on the next start
type Layout struct {
	Tabs            []Tab
	ActiveSessionID string
	IsOpen          bool
	PanelHeight     int // 0 when never saved
}

// SaveLayout replaces the stored layout in one transaction
func (db *DB) SaveLayout(l Layout) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Keep creation times of tabs that survive the rewrite.
	created, err := tabCreationTimes(tx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tabs`); err != nil {
		return fmt.Errorf("failed to clear tabs: %w", err)
	}

	now := time.Now()
	for i, t := range l.Tabs {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
			if prev, ok := created[t.ID]; ok {
				createdAt = prev
			}
		}
		_, err := tx.Exec(`
			INSERT INTO tabs (id, target_name, title, position, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, t.ID, t.TargetName, t.Title, i, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert tab: %w", err)
		}
	}

	values := map[string]string{
		keyActiveSession: l.ActiveSessionID,
		keyIsOpen:        strconv.FormatBool(l.IsOpen),
		keyPanelHeight:   strconv.Itoa(l.PanelHeight),
	}
	for k, v := range values {
		_, err := tx.Exec(`
			INSERT INTO panel (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v)
		if err != nil {
			return fmt.Errorf("failed to save panel state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit layout: %w", err)
	}
	return nil
}

func tabCreationTimes(tx *sql.Tx) (map[string]time.Time, error) {
	rows, err := tx.Query(`SELECT id, created_at FROM tabs`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tabs: %w", err)
	}
	defer rows.Close()

	created := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan tab: %w", err)
		}
		created[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tabs: %w", err)
	}
	return created, nil
}

// LoadLayout returns the stored layout; an empty database yields a zero Layout
func (db *DB) LoadLayout() (Layout, error) {
	var l Layout

	rows, err := db.conn.Query(`
		SELECT id, target_name, title, position, created_at
		FROM tabs
		ORDER BY position ASC
	`)
	if err != nil {
		return l, fmt.Errorf("failed to list tabs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Tab
		if err := rows.Scan(&t.ID, &t.TargetName, &t.Title, &t.Position, &t.CreatedAt); err != nil {
			return l, fmt.Errorf("failed to scan tab: %w", err)
		}
		l.Tabs = append(l.Tabs, t)
	}
	if err := rows.Err(); err != nil {
		return l, fmt.Errorf("error iterating tabs: %w", err)
	}

	if l.ActiveSessionID, err = db.panelValue(keyActiveSession); err != nil {
		return l, err
	}
	isOpen, err := db.panelValue(keyIsOpen)
	if err != nil {
		return l, err
	}
	l.IsOpen = isOpen == "true"
	height, err := db.panelValue(keyPanelHeight)
	if err != nil {
		return l, err
	}
	if height != "" {
		if l.PanelHeight, err = strconv.Atoi(height); err != nil {
			return l, fmt.Errorf("invalid stored panel height %q: %w", height, err)
		}
	}
	return l, nil
}

func (db *DB) panelValue(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM panel WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}
