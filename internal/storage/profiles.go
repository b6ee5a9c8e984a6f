package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Profiles ---

func (s *Store) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	var age sql.NullInt64
	var createdAt, updatedAt string
	err := s.queryRow(ctx, `SELECT id, name, age, location, created_at, updated_at FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &age, &p.Location, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Profile{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// UpsertProfile creates the profile or replaces its editable fields.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) error {
	now := formatTime(time.Now())
	var age sql.NullInt64
	if p.Age != nil {
		age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
	}
	_, err := s.exec(ctx, `
		INSERT INTO profiles (id, name, age, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, age = excluded.age, location = excluded.location, updated_at = excluded.updated_at`,
		p.ID, p.Name, age, p.Location, now, now,
	)
	return err
}

// ProfileNames returns id → name for the given users. Unknown ids are omitted.
func (s *Store) ProfileNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.query(ctx, `SELECT id, name FROM profiles WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// --- Subjects ---

func (s *Store) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.query(ctx, `SELECT id, name, description FROM subjects ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Description); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetSubject resolves a subject by id or by case-insensitive name.
func (s *Store) GetSubject(ctx context.Context, idOrName string) (Subject, error) {
	var sub Subject
	err := s.queryRow(ctx, `SELECT id, name, description FROM subjects WHERE id = ? OR LOWER(name) = LOWER(?)`, idOrName, idOrName).
		Scan(&sub.ID, &sub.Name, &sub.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrNotFound
	}
	if err != nil {
		return Subject{}, err
	}
	return sub, nil
}
