package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/iliyamo/eduvault/internal/blob"
	"github.com/iliyamo/eduvault/internal/metrics"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/queue"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/utils"
)

const publishTimeout = 3 * time.Second

// SubmitInput is a student's new certification.  FacultyID is required
// when RouteToFaculty is set and ignored otherwise.
type SubmitInput struct {
	StudentID      string
	Title          string
	RouteToFaculty bool
	FacultyID      string
	Certificate    []byte
	Filename       string
}

// ReconcileReport is the outcome of one reconciliation run.
type ReconcileReport struct {
	Findings       []repository.LinkFinding `json:"findings"`
	RemovedOrphans int64                    `json:"removedOrphans"`
}

// Ledger owns the certification lifecycle: submit, delete while pending,
// approve once by the routed faculty member.  Every write updates the
// record and its student/faculty links in one transaction.
type Ledger struct {
	certs       *repository.CertificationRepo
	accounts    *repository.AccountRepo
	blobs       blob.Store
	events      EventPublisher
	blobTimeout time.Duration
	log         *slog.Logger
}

// LedgerOptions configures a Ledger.  Events defaults to NoopPublisher.
type LedgerOptions struct {
	Events      EventPublisher
	BlobTimeout time.Duration
	Logger      *slog.Logger
}

func NewLedger(certs *repository.CertificationRepo, accounts *repository.AccountRepo, blobs blob.Store, opts LedgerOptions) *Ledger {
	if certs == nil || accounts == nil || blobs == nil {
		panic("NewLedger: nil dependency")
	}
	if opts.Events == nil {
		opts.Events = NoopPublisher{}
	}
	if opts.BlobTimeout <= 0 {
		opts.BlobTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{certs: certs, accounts: accounts, blobs: blobs, events: opts.Events, blobTimeout: opts.BlobTimeout, log: opts.Logger}
}

// Submit stores the certificate artifact and then creates the record with
// its links.  Nothing is persisted when the artifact store fails, and the
// artifact is removed again when the database write fails.
func (l *Ledger) Submit(ctx context.Context, in SubmitInput) (model.Certification, error) {
	c, err := l.submit(ctx, in)
	metrics.CertificationOps.WithLabelValues("submit", outcome(err)).Inc()
	return c, err
}

func (l *Ledger) submit(ctx context.Context, in SubmitInput) (model.Certification, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.FacultyID = strings.TrimSpace(in.FacultyID)
	var missing []string
	if in.Title == "" {
		missing = append(missing, "title")
	}
	if len(in.Certificate) == 0 {
		missing = append(missing, "certificate")
	}
	if in.RouteToFaculty && in.FacultyID == "" {
		missing = append(missing, "faculty")
	}
	if len(missing) > 0 {
		return model.Certification{}, invalid(missing...)
	}
	if _, err := l.account(ctx, in.StudentID, model.RoleStudent); err != nil {
		return model.Certification{}, err
	}
	if in.RouteToFaculty {
		if _, err := l.account(ctx, in.FacultyID, model.RoleFaculty); err != nil {
			return model.Certification{}, err
		}
	}

	c := model.Certification{
		ID:              utils.NewID(),
		Title:           in.Title,
		StudentID:       in.StudentID,
		RoutedToFaculty: in.RouteToFaculty,
	}
	if in.RouteToFaculty {
		fid := in.FacultyID
		c.FacultyID = &fid
	}

	locator, err := l.putBlob(ctx, c.ID+filepath.Ext(in.Filename), in.Certificate)
	if err != nil {
		l.log.ErrorContext(ctx, "store certificate artifact", "student_id", in.StudentID, "err", err)
		return model.Certification{}, fmt.Errorf("%w: certificate upload failed: %v", ErrDependency, err)
	}
	c.CertificateURL = locator

	if err := l.create(ctx, &c); err != nil {
		l.discardBlob(ctx, locator)
		return model.Certification{}, fmt.Errorf("%w: create certification: %v", ErrInternal, err)
	}

	l.publish(ctx, queue.EventSubmitted, c, in.StudentID)
	return c, nil
}

func (l *Ledger) create(ctx context.Context, c *model.Certification) error {
	tx, err := l.certs.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := l.certs.CreateTx(ctx, tx, c); err != nil {
		return err
	}
	if err := l.certs.LinkStudentTx(ctx, tx, c.StudentID, c.ID); err != nil {
		return err
	}
	if c.RoutedToFaculty {
		if err := l.certs.LinkFacultyTx(ctx, tx, c.Faculty(), c.ID, model.LinkPending); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Delete removes an unapproved certification owned by callerID along with
// its links.  Artifact removal is best effort.
func (l *Ledger) Delete(ctx context.Context, certificationID, callerID string) error {
	err := l.delete(ctx, certificationID, callerID)
	metrics.CertificationOps.WithLabelValues("delete", outcome(err)).Inc()
	return err
}

func (l *Ledger) delete(ctx context.Context, certificationID, callerID string) error {
	c, err := l.Get(ctx, certificationID)
	if err != nil {
		return err
	}
	if c.Approved {
		return fmt.Errorf("%w: approved certification cannot be deleted", ErrInvalidState)
	}
	if c.StudentID != callerID {
		return fmt.Errorf("%w: certification belongs to another student", ErrForbidden)
	}

	tx, err := l.certs.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrInternal, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := l.certs.DeleteTx(ctx, tx, c.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: delete certification: %v", ErrInternal, err)
		}
		// gone or approved since the read above
		cur, gerr := l.certs.GetByIDTx(ctx, tx, c.ID)
		if gerr == nil && cur.Approved {
			return fmt.Errorf("%w: approved certification cannot be deleted", ErrInvalidState)
		}
		return fmt.Errorf("%w: certification %s", ErrNotFound, c.ID)
	}
	if err := l.certs.UnlinkStudentTx(ctx, tx, c.StudentID, c.ID); err != nil {
		return fmt.Errorf("%w: unlink student: %v", ErrInternal, err)
	}
	if c.RoutedToFaculty {
		if err := l.certs.UnlinkFacultyTx(ctx, tx, c.Faculty(), c.ID, model.LinkPending); err != nil {
			return fmt.Errorf("%w: unlink faculty: %v", ErrInternal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	committed = true

	l.discardBlob(ctx, c.CertificateURL)
	l.publish(ctx, queue.EventDeleted, c, callerID)
	return nil
}

// Get returns one certification.
func (l *Ledger) Get(ctx context.Context, certificationID string) (model.Certification, error) {
	if !utils.ValidID(certificationID) {
		return model.Certification{}, fmt.Errorf("%w: certification %s", ErrNotFound, certificationID)
	}
	c, err := l.certs.GetByID(ctx, certificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Certification{}, fmt.Errorf("%w: certification %s", ErrNotFound, certificationID)
	}
	if err != nil {
		return model.Certification{}, fmt.Errorf("%w: load certification: %v", ErrInternal, err)
	}
	return c, nil
}

// Approve marks the certification approved and moves it from the faculty
// member's pending set to the approved set.  Only the routed faculty member
// may approve, and only once; a concurrent second approval fails with
// ErrInvalidState.
func (l *Ledger) Approve(ctx context.Context, certificationID, callerFacultyID string) (model.Certification, error) {
	c, err := l.approve(ctx, certificationID, callerFacultyID)
	metrics.CertificationOps.WithLabelValues("approve", outcome(err)).Inc()
	return c, err
}

func (l *Ledger) approve(ctx context.Context, certificationID, callerFacultyID string) (model.Certification, error) {
	c, err := l.Get(ctx, certificationID)
	if err != nil {
		return model.Certification{}, err
	}
	if !c.RoutedToFaculty || c.FacultyID == nil {
		return model.Certification{}, fmt.Errorf("%w: certification has no approving faculty", ErrNotFound)
	}
	if _, err := l.account(ctx, c.Faculty(), model.RoleFaculty); err != nil {
		return model.Certification{}, err
	}
	if c.Approved {
		return model.Certification{}, fmt.Errorf("%w: certification already approved", ErrInvalidState)
	}
	if c.Faculty() != callerFacultyID {
		return model.Certification{}, fmt.Errorf("%w: certification is routed to another faculty member", ErrForbidden)
	}

	tx, err := l.certs.DB().BeginTx(ctx, nil)
	if err != nil {
		return model.Certification{}, fmt.Errorf("%w: begin: %v", ErrInternal, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := l.certs.MarkApprovedTx(ctx, tx, c.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Certification{}, fmt.Errorf("%w: certification already approved", ErrInvalidState)
		}
		return model.Certification{}, fmt.Errorf("%w: approve: %v", ErrInternal, err)
	}
	if err := l.certs.MoveFacultyLinkTx(ctx, tx, callerFacultyID, c.ID, model.LinkPending, model.LinkApproved); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			l.log.ErrorContext(ctx, "approve: pending link missing", "certification_id", c.ID, "faculty_id", callerFacultyID)
			return model.Certification{}, fmt.Errorf("%w: certification %s is not pending for faculty %s", ErrInconsistent, c.ID, callerFacultyID)
		}
		return model.Certification{}, fmt.Errorf("%w: move link: %v", ErrInternal, err)
	}
	updated, err := l.certs.GetByIDTx(ctx, tx, c.ID)
	if err != nil {
		return model.Certification{}, fmt.Errorf("%w: reload certification: %v", ErrInternal, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Certification{}, fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}
	committed = true

	l.publish(ctx, queue.EventApproved, updated, callerFacultyID)
	return updated, nil
}

// ListForFaculty returns the records in the faculty member's pending or
// approved set.
func (l *Ledger) ListForFaculty(ctx context.Context, facultyID, state string) ([]model.Certification, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state != model.LinkPending && state != model.LinkApproved {
		return nil, invalid("state")
	}
	out, err := l.certs.ListByFacultyState(ctx, facultyID, state)
	if err != nil {
		return nil, fmt.Errorf("%w: list certifications: %v", ErrInternal, err)
	}
	return out, nil
}

// Reconcile reports every disagreement between records and their links and
// removes link rows whose record no longer exists.  Other findings are left
// for an operator.
func (l *Ledger) Reconcile(ctx context.Context) (ReconcileReport, error) {
	findings, err := l.certs.FindInconsistencies(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("%w: scan links: %v", ErrInternal, err)
	}
	counts := map[string]float64{
		repository.FindingOrphanStudentLink:  0,
		repository.FindingOrphanFacultyLink:  0,
		repository.FindingMissingStudentLink: 0,
		repository.FindingMissingFacultyLink: 0,
		repository.FindingStateMismatch:      0,
	}
	for _, f := range findings {
		counts[f.Kind]++
		l.log.WarnContext(ctx, "reconcile finding", "kind", f.Kind, "account_id", f.AccountID, "certification_id", f.CertificationID)
	}
	for kind, n := range counts {
		metrics.ReconcileFindings.WithLabelValues(kind).Set(n)
	}

	report := ReconcileReport{Findings: findings}
	if counts[repository.FindingOrphanStudentLink]+counts[repository.FindingOrphanFacultyLink] > 0 {
		n, err := l.certs.DeleteOrphanLinks(ctx)
		if err != nil {
			return report, fmt.Errorf("%w: remove orphan links: %v", ErrInternal, err)
		}
		report.RemovedOrphans = n
	}
	return report, nil
}

func (l *Ledger) account(ctx context.Context, id string, role model.Role) (model.Account, error) {
	a, err := l.accounts.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && a.Role != role) {
		return model.Account{}, fmt.Errorf("%w: %s %s", ErrNotFound, role, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: load %s: %v", ErrInternal, role, err)
	}
	return a, nil
}

func (l *Ledger) putBlob(ctx context.Context, name string, data []byte) (string, error) {
	bctx, cancel := context.WithTimeout(ctx, l.blobTimeout)
	defer cancel()
	return l.blobs.Put(bctx, name, data)
}

// discardBlob deletes an artifact outside the request's deadline.
func (l *Ledger) discardBlob(ctx context.Context, locator string) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.blobTimeout)
	defer cancel()
	if err := l.blobs.Delete(bctx, locator); err != nil {
		l.log.WarnContext(ctx, "delete certificate artifact", "locator", locator, "err", err)
	}
}

func (l *Ledger) publish(ctx context.Context, typ string, c model.Certification, actorID string) {
	ev := queue.CertificationEvent{
		Type:            typ,
		CertificationID: c.ID,
		Title:           c.Title,
		StudentID:       c.StudentID,
		FacultyID:       c.Faculty(),
		ActorID:         actorID,
		OccurredAt:      time.Now().UTC(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := l.events.Publish(pctx, ev); err != nil {
		l.log.WarnContext(ctx, "publish certification event", "type", typ, "certification_id", c.ID, "err", err)
	}
}
