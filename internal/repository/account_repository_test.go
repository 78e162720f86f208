package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/eduvault/internal/database/dbtest"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/utils"
)

func newInstitution(t *testing.T, r *AccountRepo, name string) model.Account {
	t.Helper()
	a := model.Account{
		ID:           utils.NewID(),
		Role:         model.RoleInstitution,
		Name:         name,
		LoginKey:     name + "|city",
		PasswordHash: "hash",
		Institution:  &model.InstitutionProfile{Location: "city"},
	}
	if err := r.Create(context.Background(), &a); err != nil {
		t.Fatalf("create institution: %v", err)
	}
	return a
}

func newFaculty(t *testing.T, r *AccountRepo, instID, name, email string) model.Account {
	t.Helper()
	a := model.Account{
		ID:           utils.NewID(),
		Role:         model.RoleFaculty,
		Name:         name,
		LoginKey:     email,
		PasswordHash: "hash",
		Faculty:      &model.FacultyProfile{InstitutionID: instID, Email: email, Department: "CS", Position: "Prof"},
	}
	if err := r.Create(context.Background(), &a); err != nil {
		t.Fatalf("create faculty: %v", err)
	}
	return a
}

func newStudent(t *testing.T, r *AccountRepo, instID, roll, email string) model.Account {
	t.Helper()
	a := model.Account{
		ID:           utils.NewID(),
		Role:         model.RoleStudent,
		Name:         "Student " + roll,
		LoginKey:     email,
		PasswordHash: "hash",
		Student:      &model.StudentProfile{InstitutionID: instID, Email: email, Roll: roll, Programme: "BSc", Department: "CS"},
	}
	if err := r.Create(context.Background(), &a); err != nil {
		t.Fatalf("create student: %v", err)
	}
	return a
}

func TestAccountCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewAccountRepo(dbtest.New(t))
	inst := newInstitution(t, r, "uni")
	st := newStudent(t, r, inst.ID, "R-1", "s@uni.edu")

	got, err := r.GetByID(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Role != model.RoleStudent || got.Student == nil || got.Faculty != nil || got.Institution != nil {
		t.Fatalf("expected only a student extension: %+v", got)
	}
	if got.Student.Roll != "R-1" || got.Student.Email != "s@uni.edu" || got.Student.InstitutionID != inst.ID {
		t.Fatalf("unexpected student profile: %+v", got.Student)
	}
	if len(got.Student.Certifications) != 0 {
		t.Fatalf("expected no certifications, got %v", got.Student.Certifications)
	}
	if !got.CreatedAt.Equal(st.CreatedAt) {
		t.Fatalf("CreatedAt %v != %v", got.CreatedAt, st.CreatedAt)
	}

	byKey, err := r.GetByLoginKey(ctx, model.RoleStudent, "s@uni.edu")
	if err != nil || byKey.ID != st.ID {
		t.Fatalf("GetByLoginKey: %v %v", byKey.ID, err)
	}
	if _, err := r.GetByLoginKey(ctx, model.RoleFaculty, "s@uni.edu"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("login keys are per role, got %v", err)
	}
	if _, err := r.GetByID(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAccountCreateDuplicates(t *testing.T) {
	r := NewAccountRepo(dbtest.New(t))
	inst := newInstitution(t, r, "uni")
	newStudent(t, r, inst.ID, "R-1", "s@uni.edu")

	dupEmail := model.Account{
		ID: utils.NewID(), Role: model.RoleStudent, Name: "x", LoginKey: "s@uni.edu", PasswordHash: "h",
		Student: &model.StudentProfile{InstitutionID: inst.ID, Roll: "R-2", Programme: "p", Department: "d"},
	}
	if err := r.Create(context.Background(), &dupEmail); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email: expected ErrDuplicate, got %v", err)
	}

	dupRoll := model.Account{
		ID: utils.NewID(), Role: model.RoleStudent, Name: "x", LoginKey: "other@uni.edu", PasswordHash: "h",
		Student: &model.StudentProfile{InstitutionID: inst.ID, Roll: "R-1", Programme: "p", Department: "d"},
	}
	if err := r.Create(context.Background(), &dupRoll); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate roll: expected ErrDuplicate, got %v", err)
	}
	// the failed insert must not leave a half-created account behind
	if _, err := r.GetByLoginKey(context.Background(), model.RoleStudent, "other@uni.edu"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestAccountPasswordAndPortal(t *testing.T) {
	ctx := context.Background()
	r := NewAccountRepo(dbtest.New(t))
	inst := newInstitution(t, r, "uni")
	st := newStudent(t, r, inst.ID, "R-1", "s@uni.edu")

	if err := r.UpdatePassword(ctx, st.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := r.UpdatePassword(ctx, "missing", "x"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := r.SetPortalConfig(ctx, inst.ID, "https://portal.test", "sealed"); err != nil {
		t.Fatalf("SetPortalConfig: %v", err)
	}
	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := r.SavePortalSnapshot(ctx, st.ID, []byte(`{"cgpa":9.1}`), at); err != nil {
		t.Fatalf("SavePortalSnapshot: %v", err)
	}

	gotInst, _ := r.GetByID(ctx, inst.ID)
	if gotInst.Institution.APIURL == nil || *gotInst.Institution.APIURL != "https://portal.test" {
		t.Fatalf("api url not stored: %+v", gotInst.Institution)
	}
	gotSt, _ := r.GetByID(ctx, st.ID)
	if gotSt.PasswordHash != "new-hash" {
		t.Fatalf("password hash = %q", gotSt.PasswordHash)
	}
	if string(gotSt.Student.PortalData) != `{"cgpa":9.1}` || gotSt.Student.PortalSyncedAt == nil || !gotSt.Student.PortalSyncedAt.Equal(at) {
		t.Fatalf("portal snapshot not stored: %+v", gotSt.Student)
	}
}

func TestTokenRepoSwap(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	accounts := NewAccountRepo(db)
	tokens := NewTokenRepo(db)
	inst := newInstitution(t, accounts, "uni")

	if err := tokens.StoreRefresh(ctx, inst.ID, "h1"); err != nil {
		t.Fatalf("StoreRefresh: %v", err)
	}
	ok, err := tokens.SwapRefresh(ctx, inst.ID, "h1", "h2")
	if err != nil || !ok {
		t.Fatalf("first swap: %v %v", ok, err)
	}
	ok, err = tokens.SwapRefresh(ctx, inst.ID, "h1", "h3")
	if err != nil || ok {
		t.Fatalf("stale swap must fail: %v %v", ok, err)
	}
	if err := tokens.RevokeForAccount(ctx, inst.ID); err != nil {
		t.Fatalf("RevokeForAccount: %v", err)
	}
	if err := tokens.RevokeForAccount(ctx, inst.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	got, _ := accounts.GetByID(ctx, inst.ID)
	if got.RefreshTokenHash != nil {
		t.Fatalf("hash not cleared: %v", *got.RefreshTokenHash)
	}
	if err := tokens.StoreRefresh(ctx, "missing", "h"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSearchFaculty(t *testing.T) {
	ctx := context.Background()
	r := NewAccountRepo(dbtest.New(t))
	inst := newInstitution(t, r, "uni")
	other := newInstitution(t, r, "other")
	newFaculty(t, r, inst.ID, "Alice Smith", "alice@uni.edu")
	newFaculty(t, r, inst.ID, "Bob 100% Jones", "bob@uni.edu")
	newFaculty(t, r, inst.ID, "carol_x", "carol@uni.edu")
	newFaculty(t, r, inst.ID, "Émile Borel", "emile@uni.edu")
	newFaculty(t, r, other.ID, "Alice Elsewhere", "alice@other.edu")

	tests := []struct {
		query string
		want  []string
	}{
		{"alice", []string{"Alice Smith"}},
		{"SMITH", []string{"Alice Smith"}},
		{"%", []string{"Bob 100% Jones"}},
		{"_", []string{"carol_x"}},
		{"!", nil},
		{"o", []string{"Bob 100% Jones", "carol_x", "Émile Borel"}},
		{"Émile", []string{"Émile Borel"}},
		{"émile", []string{"Émile Borel"}},
		{"ÉMILE BOREL", []string{"Émile Borel"}},
	}
	for _, tc := range tests {
		got, err := r.SearchFaculty(ctx, inst.ID, tc.query, 10)
		if err != nil {
			t.Fatalf("SearchFaculty(%q): %v", tc.query, err)
		}
		var names []string
		for _, f := range got {
			names = append(names, f.Name)
			if f.InstitutionID != inst.ID {
				t.Errorf("%q: result from another institution: %+v", tc.query, f)
			}
		}
		if len(names) != len(tc.want) {
			t.Fatalf("SearchFaculty(%q) = %v, want %v", tc.query, names, tc.want)
		}
		for i := range names {
			if names[i] != tc.want[i] {
				t.Fatalf("SearchFaculty(%q) = %v, want %v", tc.query, names, tc.want)
			}
		}
	}
}

func TestSearchFacultyLimit(t *testing.T) {
	r := NewAccountRepo(dbtest.New(t))
	inst := newInstitution(t, r, "uni")
	for i := 0; i < 12; i++ {
		newFaculty(t, r, inst.ID, "Dr Who", utils.NewID()+"@uni.edu")
	}
	got, err := r.SearchFaculty(context.Background(), inst.ID, "who", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
}

func TestEscapeLike(t *testing.T) {
	if got := EscapeLike("a%b_c!"); got != "a!%b!_c!!" {
		t.Fatalf("EscapeLike = %q", got)
	}
}
