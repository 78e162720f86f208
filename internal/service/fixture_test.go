package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/eduvault/internal/database/dbtest"
	"github.com/iliyamo/eduvault/internal/logging"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/queue"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/utils"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// memBlobs is an in-memory artifact store.  Set failPut to make uploads
// fail.
type memBlobs struct {
	mu      sync.Mutex
	files   map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs { return &memBlobs{files: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("disk full")
	}
	loc := "mem://" + name
	m.files[loc] = append([]byte(nil), data...)
	return loc, nil
}

func (m *memBlobs) Delete(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, locator)
	return nil
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.CertificationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.CertificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type stubPortal struct {
	body    json.RawMessage
	err     error
	gotURL  string
	gotKey  string
	gotRoll string
}

func (s *stubPortal) FetchStudent(_ context.Context, baseURL, apiKey, roll string) (json.RawMessage, error) {
	s.gotURL, s.gotKey, s.gotRoll = baseURL, apiKey, roll
	return s.body, s.err
}

type fixture struct {
	accounts *repository.AccountRepo
	certs    *repository.CertificationRepo
	tokens   *TokenService
	dir      *Directory
	ledger   *Ledger
	blobs    *memBlobs
	events   *recordingPublisher
	portal   *stubPortal
}

var testTokenConfig = TokenConfig{
	AccessSecret:  "access-secret",
	RefreshSecret: "refresh-secret",
	AccessTTL:     time.Minute,
	RefreshTTL:    time.Hour,
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	log := logging.Discard()
	accounts := repository.NewAccountRepo(db)
	certs := repository.NewCertificationRepo(db)
	sealer, err := utils.NewSealer(testSealKey)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		accounts: accounts,
		certs:    certs,
		blobs:    newMemBlobs(),
		events:   &recordingPublisher{},
		portal:   &stubPortal{body: json.RawMessage(`{"cgpa":8.7}`)},
	}
	f.tokens = NewTokenService(accounts, repository.NewTokenRepo(db), testTokenConfig, log)
	f.dir = NewDirectory(accounts, DirectoryOptions{
		BcryptCost:    bcrypt.MinCost,
		Sealer:        sealer,
		Portal:        f.portal,
		PortalTimeout: time.Second,
		Logger:        log,
	})
	f.ledger = NewLedger(certs, accounts, f.blobs, LedgerOptions{Events: f.events, BlobTimeout: time.Second, Logger: log})
	return f
}

func (f *fixture) institution(t *testing.T, name string) model.Account {
	t.Helper()
	a, err := f.dir.RegisterInstitution(context.Background(), InstitutionRegistration{Name: name, Location: "Pune", Password: "inst-pass"})
	if err != nil {
		t.Fatalf("register institution: %v", err)
	}
	return a
}

func (f *fixture) student(t *testing.T, instID, roll string) model.Account {
	t.Helper()
	a, err := f.dir.RegisterStudent(context.Background(), StudentRegistration{
		Name: "Student " + roll, Roll: roll, Password: "stud-pass", Institution: instID,
		Programme: "BTech", Department: "CS", Email: strings.ToLower(roll) + "@uni.edu",
	})
	if err != nil {
		t.Fatalf("register student: %v", err)
	}
	return a
}

func (f *fixture) faculty(t *testing.T, instID, name string) model.Account {
	t.Helper()
	a, err := f.dir.RegisterFaculty(context.Background(), FacultyRegistration{
		Name: name, Institution: instID, Department: "CS", Position: "Professor",
		Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@uni.edu", Password: "fac-pass",
	})
	if err != nil {
		t.Fatalf("register faculty: %v", err)
	}
	return a
}

func (f *fixture) submitRouted(t *testing.T, studentID, facultyID string) model.Certification {
	t.Helper()
	c, err := f.ledger.Submit(context.Background(), SubmitInput{
		StudentID: studentID, Title: "Cloud Practitioner", RouteToFaculty: true, FacultyID: facultyID,
		Certificate: []byte("%PDF-1.4"), Filename: "cert.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return c
}

func (f *fixture) account(t *testing.T, id string) model.Account {
	t.Helper()
	a, err := f.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return a
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
