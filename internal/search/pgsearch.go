package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PgSearch implements Searcher against Postgres as a fallback when
// Meilisearch is unavailable. Matching is ILIKE-based, which is good
// enough for a directory this size.
type PgSearch struct {
	db *sql.DB
}

// NewPgSearch creates a Postgres-backed member searcher.
func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search lists public, unbanned members matching the query text by name
// or location, optionally narrowed to an offered skill.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"u.is_public", "NOT u.is_banned"}
	args := []any{}

	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, "%"+text+"%")
		conditions = append(conditions, fmt.Sprintf("(u.name ILIKE $%d OR u.location ILIKE $%d)", len(args), len(args)))
	}
	if skill := strings.TrimSpace(q.Skill); skill != "" {
		args = append(args, "%"+skill+"%")
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM user_skills us
			JOIN skills sk ON sk.id = us.skill_id
			WHERE us.user_id = u.id AND us.skill_type = 'offered' AND sk.name ILIKE $%d
		)`, len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM users u WHERE ` + where
	if err := p.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT u.id, u.name, u.location, u.availability, u.photo_url,
			COALESCE((SELECT ROUND(AVG(fb.rating)::numeric, 1) FROM feedback fb WHERE fb.rated_user_id = u.id), 0),
			COALESCE((
				SELECT ARRAY_AGG(sk.name ORDER BY sk.name)
				FROM user_skills us JOIN skills sk ON sk.id = us.skill_id
				WHERE us.user_id = u.id AND us.skill_type = 'offered'
			), '{}'),
			COALESCE((
				SELECT ARRAY_AGG(sk.name ORDER BY sk.name)
				FROM user_skills us JOIN skills sk ON sk.id = us.skill_id
				WHERE us.user_id = u.id AND us.skill_type = 'wanted'
			), '{}')
		FROM users u
		WHERE %s
		ORDER BY u.name ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search members: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var offered, wanted pq.StringArray
		if err := rows.Scan(&r.UserID, &r.Name, &r.Location, &r.Availability, &r.PhotoURL, &r.Rating, &offered, &wanted); err != nil {
			return nil, 0, fmt.Errorf("scan member: %w", err)
		}
		r.SkillsOffered = offered
		r.SkillsWanted = wanted
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate members: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every public member for bulk reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]MemberRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.location, u.availability, u.photo_url,
			COALESCE((SELECT ROUND(AVG(fb.rating)::numeric, 1) FROM feedback fb WHERE fb.rated_user_id = u.id), 0),
			COALESCE((
				SELECT ARRAY_AGG(sk.name ORDER BY sk.name)
				FROM user_skills us JOIN skills sk ON sk.id = us.skill_id
				WHERE us.user_id = u.id AND us.skill_type = 'offered'
			), '{}'),
			COALESCE((
				SELECT ARRAY_AGG(sk.name ORDER BY sk.name)
				FROM user_skills us JOIN skills sk ON sk.id = us.skill_id
				WHERE us.user_id = u.id AND us.skill_type = 'wanted'
			), '{}')
		FROM users u
		WHERE u.is_public AND NOT u.is_banned
	`)
	if err != nil {
		return nil, fmt.Errorf("load member records: %w", err)
	}
	defer rows.Close()

	records := make([]MemberRecord, 0)
	for rows.Next() {
		var rec MemberRecord
		var offered, wanted pq.StringArray
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Location, &rec.Availability, &rec.PhotoURL, &rec.Rating, &offered, &wanted); err != nil {
			return nil, fmt.Errorf("scan member record: %w", err)
		}
		rec.SkillsOffered = offered
		rec.SkillsWanted = wanted
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member records: %w", err)
	}
	return records, nil
}
