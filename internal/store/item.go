package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertItemSQL = `
	INSERT INTO items (id, title, description, image_url, location, is_found, date,
		user_id, user_username, user_email, user_image_url, user_name, user_surname, user_phone, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		image_url = excluded.image_url,
		location = excluded.location,
		is_found = excluded.is_found,
		date = excluded.date,
		user_id = excluded.user_id,
		user_username = excluded.user_username,
		user_email = excluded.user_email,
		user_image_url = excluded.user_image_url,
		user_name = excluded.user_name,
		user_surname = excluded.user_surname,
		user_phone = excluded.user_phone,
		updated_at = excluded.updated_at`

const selectItemColumns = `
	SELECT id, title, description, image_url, location, is_found, date,
		user_id, user_username, user_email, user_image_url, user_name, user_surname, user_phone
	FROM items`

// UpsertItem inserts or replaces a single item by id.
func (db *DB) UpsertItem(it *Item) error {
	_, err := db.Exec(upsertItemSQL, itemArgs(it, time.Now().UnixMilli())...)
	return err
}

// ReplaceAllItems replaces the whole item cache with the remote collection
// inside one transaction. The remote is authoritative: items absent from
// the new collection disappear from the cache.
func (db *DB) ReplaceAllItems(items []Item) error {
	return db.replaceItems(`DELETE FROM items`, nil, items)
}

// ReplaceItemsByUser replaces only the cache rows owned by one user.
func (db *DB) ReplaceItemsByUser(userID int64, items []Item) error {
	return db.replaceItems(`DELETE FROM items WHERE user_id = ?`, []any{userID}, items)
}

func (db *DB) replaceItems(deleteSQL string, deleteArgs []any, items []Item) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	now := time.Now().UnixMilli()
	for i := range items {
		it := &items[i]
		if _, err := tx.Exec(upsertItemSQL, itemArgs(it, now)...); err != nil {
			return fmt.Errorf("insert item %d: %w", it.ID, err)
		}
		if it.Owner.ID != 0 {
			if _, err := tx.Exec(upsertUserSQL,
				it.Owner.ID, it.Owner.Username, it.Owner.Name, it.Owner.Surname,
				it.Owner.Email, it.Owner.Phone, it.Owner.AvatarURL, now); err != nil {
				return fmt.Errorf("upsert owner %d: %w", it.Owner.ID, err)
			}
		}
	}
	return tx.Commit()
}

// ListItems returns all cached items, newest first.
func (db *DB) ListItems() ([]Item, error) {
	return db.queryItems(selectItemColumns + ` ORDER BY id DESC`)
}

// ListItemsByUser returns cached items owned by one user, newest first.
func (db *DB) ListItemsByUser(userID int64) ([]Item, error) {
	return db.queryItems(selectItemColumns+` WHERE user_id = ? ORDER BY id DESC`, userID)
}

// GetItem returns a single cached item by id, or nil if not cached.
func (db *DB) GetItem(id int64) (*Item, error) {
	row := db.QueryRow(selectItemColumns+` WHERE id = ?`, id)
	var it Item
	if err := scanItem(row.Scan, &it); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (db *DB) queryItems(query string, args ...any) ([]Item, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		var it Item
		if err := scanItem(rows.Scan, &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func itemArgs(it *Item, now int64) []any {
	return []any{
		it.ID, it.Title, it.Description, it.ImageURL, it.Location, it.IsFound, it.Date,
		it.Owner.ID, it.Owner.Username, it.Owner.Email, it.Owner.AvatarURL,
		it.Owner.Name, it.Owner.Surname, it.Owner.Phone, now,
	}
}

func scanItem(scan func(...any) error, it *Item) error {
	return scan(
		&it.ID, &it.Title, &it.Description, &it.ImageURL, &it.Location, &it.IsFound, &it.Date,
		&it.Owner.ID, &it.Owner.Username, &it.Owner.Email, &it.Owner.AvatarURL,
		&it.Owner.Name, &it.Owner.Surname, &it.Owner.Phone,
	)
}
