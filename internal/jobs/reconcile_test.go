package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/eduvault/internal/logging"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/service"
)

type fakeReconciler struct {
	calls  atomic.Int32
	report service.ReconcileReport
	err    error
	ran    chan struct{}
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (service.ReconcileReport, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return service.ReconcileReport{}, errors.New("no deadline")
	}
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return f.report, f.err
}

func TestRunReconcileLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "info")
	r := &fakeReconciler{report: service.ReconcileReport{
		Findings:       []repository.LinkFinding{{Kind: repository.FindingOrphanStudentLink, AccountID: "s", CertificationID: "c"}},
		RemovedOrphans: 1,
	}}

	RunReconcile(r, time.Second, log)
	out := buf.String()
	if !strings.Contains(out, `"msg":"reconcile finished"`) || !strings.Contains(out, `"removed_orphans":1`) {
		t.Fatalf("log = %s", out)
	}

	buf.Reset()
	r.err = errors.New("db gone")
	RunReconcile(r, time.Second, log)
	if !strings.Contains(buf.String(), `"msg":"reconcile failed"`) {
		t.Fatalf("log = %s", buf.String())
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	r := &fakeReconciler{ran: make(chan struct{}, 1)}
	s, err := NewReconcileScheduler("@every 1s", r, time.Second, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewReconcileScheduler("every now and then", &fakeReconciler{}, time.Second, nil); err == nil {
		t.Fatal("bad spec accepted")
	}
}
