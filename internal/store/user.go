package store

import (
	"database/sql"
	"time"
)

const upsertUserSQL = `
	INSERT INTO users (id, username, name, surname, email, phone, image_url, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
		surname = CASE WHEN excluded.surname != '' THEN excluded.surname ELSE users.surname END,
		email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
		phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE users.phone END,
		image_url = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE users.image_url END,
		updated_at = excluded.updated_at`

// UpsertUser inserts or updates a user snapshot. Empty incoming fields
// never clobber known values, since socket payloads omit optional fields.
func (db *DB) UpsertUser(u *User) error {
	if u.ID == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(upsertUserSQL, u.ID, u.Username, u.Name, u.Surname, u.Email, u.Phone, u.AvatarURL, now)
	return err
}

// GetUser returns a cached user by id, or nil if unknown.
func (db *DB) GetUser(id int64) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, username, name, surname, email, phone, image_url
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Name, &u.Surname, &u.Email, &u.Phone, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
