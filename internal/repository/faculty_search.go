package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/eduvault/internal/model"
)

// likeEscape is the LIKE escape character.  A backslash would need
// different literal quoting in MySQL and SQLite; '!' reads the same in both.
const likeEscape = "!"

// EscapeLike neutralizes LIKE metacharacters so the input matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

// SearchFaculty returns up to limit faculty members of institutionID whose
// name contains query, case-insensitively, ordered by name.
func (r *AccountRepo) SearchFaculty(ctx context.Context, institutionID, query string, limit int) ([]model.FacultySummary, error) {
	pattern := "%" + EscapeLike(foldName(query)) + "%"
	const q = `SELECT a.id, a.name, f.institution_id, f.department, f.position, a.login_key
		FROM accounts a
		JOIN faculty f ON f.account_id = a.id
		WHERE a.role = ? AND f.institution_id = ? AND a.name_fold LIKE ? ESCAPE '` + likeEscape + `'
		ORDER BY a.name ASC, a.id ASC
		LIMIT ?`

	rows, err := r.DB.QueryContext(ctx, q, string(model.RoleFaculty), institutionID, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.FacultySummary, 0, limit)
	for rows.Next() {
		var f model.FacultySummary
		if err := rows.Scan(&f.ID, &f.Name, &f.InstitutionID, &f.Department, &f.Position, &f.Email); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
