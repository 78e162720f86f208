package service

import (
	"context"
	"testing"

	"github.com/iliyamo/eduvault/internal/model"
)

// Student submits to faculty, faculty approves, both sides observe it.
func TestSubmitApproveScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inst := f.institution(t, "Institute of Testing")
	s := f.student(t, inst.ID, "S-100")
	fac := f.faculty(t, inst.ID, "Barbara Liskov")

	session, facAcct, err := f.tokens.Login(ctx, model.RoleFaculty, "barbara.liskov@uni.edu", "fac-pass")
	if err != nil {
		t.Fatalf("faculty login: %v", err)
	}
	claims, err := f.tokens.Authenticate(session.AccessToken)
	if err != nil || claims.AccountID != fac.ID || facAcct.ID != fac.ID {
		t.Fatalf("faculty session = %+v, %v", claims, err)
	}

	c := f.submitRouted(t, s.ID, fac.ID)
	if p := f.account(t, fac.ID).Faculty.Pending; !contains(p, c.ID) {
		t.Fatalf("pending = %v", p)
	}

	if _, err := f.ledger.Approve(ctx, c.ID, claims.AccountID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := f.ledger.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Approved {
		t.Fatal("student sees unapproved record")
	}
	prof := f.account(t, fac.ID).Faculty
	if contains(prof.Pending, c.ID) || !contains(prof.Approved, c.ID) {
		t.Fatalf("faculty sets = %v / %v", prof.Pending, prof.Approved)
	}
	if !contains(f.account(t, s.ID).Student.Certifications, c.ID) {
		t.Fatal("student lost the record")
	}
}
