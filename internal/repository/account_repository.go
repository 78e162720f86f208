package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/eduvault/internal/model"
)

// AccountRepo persists the accounts table and the three role extension
// tables.  Reads always return the account with its extension and
// back-reference lists loaded.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountCols = "id, role, name, login_key, password_hash, refresh_token_hash, created_at, updated_at"

// Create inserts the account row and its role extension in one transaction.
// Timestamps are filled in on a.  A unique key collision returns
// ErrDuplicate.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	ts := now()
	a.CreatedAt, a.UpdatedAt = ts, ts

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO accounts ("+accountCols+", name_fold) VALUES (?,?,?,?,?,?,?,?,?)",
		a.ID, string(a.Role), a.Name, a.LoginKey, a.PasswordHash, a.RefreshTokenHash,
		toMillis(ts), toMillis(ts), foldName(a.Name)); err != nil {
		return translateInsert(err)
	}

	switch a.Role {
	case model.RoleStudent:
		s := a.Student
		_, err = tx.ExecContext(ctx,
			"INSERT INTO students (account_id, institution_id, roll, programme, department) VALUES (?,?,?,?,?)",
			a.ID, s.InstitutionID, s.Roll, s.Programme, s.Department)
	case model.RoleFaculty:
		f := a.Faculty
		_, err = tx.ExecContext(ctx,
			"INSERT INTO faculty (account_id, institution_id, department, position) VALUES (?,?,?,?)",
			a.ID, f.InstitutionID, f.Department, f.Position)
	case model.RoleInstitution:
		in := a.Institution
		_, err = tx.ExecContext(ctx,
			"INSERT INTO institutions (account_id, location, api_url, encrypted_api_key) VALUES (?,?,?,?)",
			a.ID, in.Location, in.APIURL, in.EncryptedAPIKey)
	default:
		err = fmt.Errorf("create account: unknown role %q", a.Role)
	}
	if err != nil {
		return translateInsert(err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// foldName is the lowercased form faculty search matches against.  SQLite's
// LOWER() folds ASCII only, so names are folded here for both drivers.
func foldName(name string) string { return strings.ToLower(name) }

func translateInsert(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches an account of any role.  sql.ErrNoRows when absent.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (model.Account, error) {
	return r.getOne(ctx, "SELECT "+accountCols+" FROM accounts WHERE id=? LIMIT 1", id)
}

// GetByLoginKey fetches an account by its per-role unique login key.
func (r *AccountRepo) GetByLoginKey(ctx context.Context, role model.Role, key string) (model.Account, error) {
	return r.getOne(ctx, "SELECT "+accountCols+" FROM accounts WHERE role=? AND login_key=? LIMIT 1", string(role), key)
}

func (r *AccountRepo) getOne(ctx context.Context, query string, args ...any) (model.Account, error) {
	var (
		a       model.Account
		role    string
		refresh sql.NullString
		created int64
		updated int64
	)
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &role, &a.Name, &a.LoginKey, &a.PasswordHash, &refresh, &created, &updated)
	if err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.RefreshTokenHash = nullString(refresh)
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
	if err := r.loadExtension(ctx, &a); err != nil {
		return model.Account{}, fmt.Errorf("load %s extension: %w", a.Role, err)
	}
	return a, nil
}

func (r *AccountRepo) loadExtension(ctx context.Context, a *model.Account) error {
	switch a.Role {
	case model.RoleStudent:
		s := &model.StudentProfile{Email: a.LoginKey}
		var (
			portal   sql.NullString
			syncedAt sql.NullInt64
		)
		err := r.DB.QueryRowContext(ctx,
			"SELECT institution_id, roll, programme, department, portal_data, portal_synced_at FROM students WHERE account_id=?",
			a.ID).Scan(&s.InstitutionID, &s.Roll, &s.Programme, &s.Department, &portal, &syncedAt)
		if err != nil {
			return err
		}
		if portal.Valid {
			s.PortalData = json.RawMessage(portal.String)
		}
		s.PortalSyncedAt = fromNullMillis(syncedAt)
		if s.Certifications, err = r.listIDs(ctx,
			"SELECT certification_id FROM student_certifications WHERE student_id=? ORDER BY added_at, certification_id",
			a.ID); err != nil {
			return err
		}
		a.Student = s
	case model.RoleFaculty:
		f := &model.FacultyProfile{Email: a.LoginKey}
		err := r.DB.QueryRowContext(ctx,
			"SELECT institution_id, department, position FROM faculty WHERE account_id=?",
			a.ID).Scan(&f.InstitutionID, &f.Department, &f.Position)
		if err != nil {
			return err
		}
		const q = "SELECT certification_id FROM faculty_certifications WHERE faculty_id=? AND state=? ORDER BY updated_at, certification_id"
		if f.Pending, err = r.listIDs(ctx, q, a.ID, model.LinkPending); err != nil {
			return err
		}
		if f.Approved, err = r.listIDs(ctx, q, a.ID, model.LinkApproved); err != nil {
			return err
		}
		a.Faculty = f
	case model.RoleInstitution:
		in := &model.InstitutionProfile{}
		var apiURL, key sql.NullString
		err := r.DB.QueryRowContext(ctx,
			"SELECT location, api_url, encrypted_api_key FROM institutions WHERE account_id=?",
			a.ID).Scan(&in.Location, &apiURL, &key)
		if err != nil {
			return err
		}
		in.APIURL, in.EncryptedAPIKey = nullString(apiURL), nullString(key)
		a.Institution = in
	default:
		return fmt.Errorf("unknown role %q", a.Role)
	}
	return nil
}

func (r *AccountRepo) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePassword replaces the stored hash.  sql.ErrNoRows when the account
// does not exist.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET password_hash=?, updated_at=? WHERE id=?",
		hash, toMillis(now()), id)
	return affectedOne(res, err)
}

// SetPortalConfig stores an institution's portal base URL and sealed key.
func (r *AccountRepo) SetPortalConfig(ctx context.Context, institutionID, apiURL, sealedKey string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE institutions SET api_url=?, encrypted_api_key=? WHERE account_id=?",
		apiURL, sealedKey, institutionID)
	return affectedOne(res, err)
}

// SavePortalSnapshot records the last portal payload fetched for a student.
func (r *AccountRepo) SavePortalSnapshot(ctx context.Context, studentID string, data []byte, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE students SET portal_data=?, portal_synced_at=? WHERE account_id=?",
		string(data), toMillis(at), studentID)
	return affectedOne(res, err)
}

// affectedOne maps "no row matched" to sql.ErrNoRows.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
