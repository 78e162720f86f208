package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/eduvault/internal/model"
)

// CertificationRepo stores certification records and maintains the two
// link tables that mirror them onto student and faculty accounts.  Methods
// ending in Tx run inside a caller-owned transaction; the caller commits or
// rolls back.
type CertificationRepo struct {
	db *sql.DB
}

func NewCertificationRepo(db *sql.DB) *CertificationRepo { return &CertificationRepo{db: db} }

// DB exposes the handle so services can open transactions spanning several
// repository calls.
func (r *CertificationRepo) DB() *sql.DB { return r.db }

const certCols = "id, title, student_id, routed_to_faculty, faculty_id, approved, certificate_url, created_at, updated_at, approved_at"

func scanCertification(row interface{ Scan(...any) error }) (model.Certification, error) {
	var (
		c        model.Certification
		faculty  sql.NullString
		created  int64
		updated  int64
		approved sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.StudentID, &c.RoutedToFaculty, &faculty,
		&c.Approved, &c.CertificateURL, &created, &updated, &approved); err != nil {
		return model.Certification{}, err
	}
	c.FacultyID = nullString(faculty)
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	c.ApprovedAt = fromNullMillis(approved)
	return c, nil
}

// GetByID returns the record or sql.ErrNoRows.
func (r *CertificationRepo) GetByID(ctx context.Context, id string) (model.Certification, error) {
	return r.get(ctx, r.db, id)
}

// GetByIDTx reads the record through tx.
func (r *CertificationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (model.Certification, error) {
	return r.get(ctx, tx, id)
}

func (r *CertificationRepo) get(ctx context.Context, q querier, id string) (model.Certification, error) {
	return scanCertification(q.QueryRowContext(ctx,
		"SELECT "+certCols+" FROM certifications WHERE id=? LIMIT 1", id))
}

// CreateTx inserts c with approved=false.  Timestamps are filled in on c.
func (r *CertificationRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Certification) error {
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts
	c.Approved, c.ApprovedAt = false, nil
	_, err := tx.ExecContext(ctx,
		"INSERT INTO certifications ("+certCols+") VALUES (?,?,?,?,?,?,?,?,?,?)",
		c.ID, c.Title, c.StudentID, c.RoutedToFaculty, c.FacultyID, false, c.CertificateURL,
		toMillis(ts), toMillis(ts), nil)
	return translateInsert(err)
}

// DeleteTx removes the record row.  sql.ErrNoRows when nothing was deleted.
func (r *CertificationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM certifications WHERE id=? AND approved=0", id)
	return affectedOne(res, err)
}

// MarkApprovedTx flips approved from false to true.  ErrConflict when the
// row is missing or already approved, so only one concurrent approver wins.
func (r *CertificationRepo) MarkApprovedTx(ctx context.Context, tx *sql.Tx, id string) error {
	ts := toMillis(now())
	res, err := tx.ExecContext(ctx,
		"UPDATE certifications SET approved=1, approved_at=?, updated_at=? WHERE id=? AND approved=0",
		ts, ts, id)
	if err := affectedOne(res, err); err != nil {
		if err == sql.ErrNoRows {
			return ErrConflict
		}
		return err
	}
	return nil
}

// LinkStudentTx appends the record to the student's certification list.
func (r *CertificationRepo) LinkStudentTx(ctx context.Context, tx *sql.Tx, studentID, certID string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO student_certifications (student_id, certification_id, added_at) VALUES (?,?,?)",
		studentID, certID, toMillis(now()))
	return translateInsert(err)
}

// UnlinkStudentTx removes the record from the student's list.  Missing
// links are not an error.
func (r *CertificationRepo) UnlinkStudentTx(ctx context.Context, tx *sql.Tx, studentID, certID string) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM student_certifications WHERE student_id=? AND certification_id=?",
		studentID, certID)
	return err
}

// LinkFacultyTx adds the record to the faculty member's set in state.
func (r *CertificationRepo) LinkFacultyTx(ctx context.Context, tx *sql.Tx, facultyID, certID, state string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO faculty_certifications (faculty_id, certification_id, state, updated_at) VALUES (?,?,?,?)",
		facultyID, certID, state, toMillis(now()))
	return translateInsert(err)
}

// UnlinkFacultyTx removes the record from the faculty member's set if it is
// in state.  Missing links are not an error.
func (r *CertificationRepo) UnlinkFacultyTx(ctx context.Context, tx *sql.Tx, facultyID, certID, state string) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM faculty_certifications WHERE faculty_id=? AND certification_id=? AND state=?",
		facultyID, certID, state)
	return err
}

// MoveFacultyLinkTx moves the record between the faculty member's sets.
// ErrConflict when the link is not currently in from.
func (r *CertificationRepo) MoveFacultyLinkTx(ctx context.Context, tx *sql.Tx, facultyID, certID, from, to string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE faculty_certifications SET state=?, updated_at=? WHERE faculty_id=? AND certification_id=? AND state=?",
		to, toMillis(now()), facultyID, certID, from)
	if err := affectedOne(res, err); err != nil {
		if err == sql.ErrNoRows {
			return ErrConflict
		}
		return err
	}
	return nil
}

// ListByFacultyState returns the records in a faculty member's pending or
// approved set, oldest link first.
func (r *CertificationRepo) ListByFacultyState(ctx context.Context, facultyID, state string) ([]model.Certification, error) {
	const q = `SELECT c.id, c.title, c.student_id, c.routed_to_faculty, c.faculty_id, c.approved,
			c.certificate_url, c.created_at, c.updated_at, c.approved_at
		FROM faculty_certifications fc
		JOIN certifications c ON c.id = fc.certification_id
		WHERE fc.faculty_id = ? AND fc.state = ?
		ORDER BY fc.updated_at, fc.certification_id`
	rows, err := r.db.QueryContext(ctx, q, facultyID, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Certification{}
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkFinding names one inconsistent link or record found by a
// reconciliation scan.
type LinkFinding struct {
	Kind            string `json:"kind"`
	AccountID       string `json:"accountId"`
	CertificationID string `json:"certificationId"`
}

// Finding kinds reported by FindInconsistencies.
const (
	FindingOrphanStudentLink  = "orphan_student_link"
	FindingOrphanFacultyLink  = "orphan_faculty_link"
	FindingMissingStudentLink = "missing_student_link"
	FindingMissingFacultyLink = "missing_faculty_link"
	FindingStateMismatch      = "faculty_link_state_mismatch"
)

var reconcileQueries = []struct {
	kind  string
	query string
}{
	{FindingOrphanStudentLink, `SELECT sc.student_id, sc.certification_id
		FROM student_certifications sc
		LEFT JOIN certifications c ON c.id = sc.certification_id
		WHERE c.id IS NULL`},
	{FindingOrphanFacultyLink, `SELECT fc.faculty_id, fc.certification_id
		FROM faculty_certifications fc
		LEFT JOIN certifications c ON c.id = fc.certification_id
		WHERE c.id IS NULL`},
	{FindingMissingStudentLink, `SELECT c.student_id, c.id
		FROM certifications c
		LEFT JOIN student_certifications sc ON sc.certification_id = c.id AND sc.student_id = c.student_id
		WHERE sc.certification_id IS NULL`},
	{FindingMissingFacultyLink, `SELECT COALESCE(c.faculty_id, ''), c.id
		FROM certifications c
		LEFT JOIN faculty_certifications fc ON fc.certification_id = c.id AND fc.faculty_id = c.faculty_id
		WHERE c.routed_to_faculty = 1 AND fc.certification_id IS NULL`},
	{FindingStateMismatch, `SELECT fc.faculty_id, fc.certification_id
		FROM faculty_certifications fc
		JOIN certifications c ON c.id = fc.certification_id
		WHERE (c.approved = 1 AND fc.state <> 'APPROVED') OR (c.approved = 0 AND fc.state <> 'PENDING')`},
}

// FindInconsistencies scans the link tables against the records and returns
// every disagreement.  An empty result means the mirrors are exact.
func (r *CertificationRepo) FindInconsistencies(ctx context.Context) ([]LinkFinding, error) {
	out := []LinkFinding{}
	for _, rq := range reconcileQueries {
		rows, err := r.db.QueryContext(ctx, rq.query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			f := LinkFinding{Kind: rq.kind}
			if err := rows.Scan(&f.AccountID, &f.CertificationID); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteOrphanLinks removes link rows whose record no longer exists and
// returns how many were removed.
func (r *CertificationRepo) DeleteOrphanLinks(ctx context.Context) (int64, error) {
	var total int64
	for _, q := range []string{
		"DELETE FROM student_certifications WHERE certification_id NOT IN (SELECT id FROM certifications)",
		"DELETE FROM faculty_certifications WHERE certification_id NOT IN (SELECT id FROM certifications)",
	} {
		res, err := r.db.ExecContext(ctx, q)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
