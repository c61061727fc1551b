package patientssrv_test

import (
	"context"
	"testing"
	"time"

	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/patients"
	"github.com/coagline/coagline/pkg/patients/patientssrv"
	"github.com/coagline/coagline/pkg/ptrx"
)

type memRepo struct {
	created []patients.Patient
}

func (m *memRepo) CreateWithRange(_ context.Context, p *patients.Patient, rng *patients.TargetRange) error {
	rng.ID = int64(len(m.created) + 1)
	rng.PatientID = p.ID
	m.created = append(m.created, *p)
	return nil
}

func (m *memRepo) Find(_ context.Context, id string, accountID kernel.AccountID) (*patients.Patient, error) {
	for _, p := range m.created {
		if p.ID == id && p.AccountID == accountID {
			return &p, nil
		}
	}
	return nil, patients.ErrNotFound()
}

func (m *memRepo) List(_ context.Context, accountID kernel.AccountID, opts kernel.PaginationOptions) (*kernel.Paginated[patients.Patient], error) {
	var items []patients.Patient
	for _, p := range m.created {
		if p.AccountID == accountID {
			items = append(items, p)
		}
	}
	result := kernel.NewPaginated(items, opts.Page, opts.PageSize, len(items))
	return &result, nil
}

func (m *memRepo) CurrentRange(_ context.Context, patientID string) (*patients.TargetRange, error) {
	return &patients.TargetRange{PatientID: patientID, MinINR: 2, MaxINR: 3}, nil
}

func (m *memRepo) ReplaceRange(_ context.Context, patientID string, rng *patients.TargetRange) error {
	rng.PatientID = patientID
	return nil
}

type fixedGate struct {
	access entitlement.Access
}

func (g fixedGate) Check(context.Context, kernel.AccountID) (entitlement.Access, error) {
	return g.access, nil
}

func owner() *kernel.Principal {
	return &kernel.Principal{IdentityID: "ident-1", AccountID: "acct-1"}
}

func viewer() *kernel.Principal {
	return &kernel.Principal{
		IdentityID:    "ident-2",
		AccountID:     "acct-1",
		EffectiveRole: ptrx.Ptr(kernel.RoleViewer),
	}
}

var validReq = patientssrv.CreateRequest{
	FirstName: "Ada",
	LastName:  "Nilsen",
	BirthDate: time.Date(1948, 5, 2, 0, 0, 0, 0, time.UTC),
	MinINR:    2.0,
	MaxINR:    3.0,
}

func TestCreateAllowsOwnerWithFullAccess(t *testing.T) {
	repo := &memRepo{}
	svc := patientssrv.NewService(repo, fixedGate{entitlement.Access{Level: entitlement.AccessFull}})

	patient, rng, err := svc.Create(context.Background(), owner(), validReq)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if patient.AccountID != "acct-1" {
		t.Fatalf("account = %q, want acct-1", patient.AccountID)
	}
	if rng.PatientID != patient.ID {
		t.Fatal("range not linked to patient")
	}
}

func TestCreateDeniesViewer(t *testing.T) {
	svc := patientssrv.NewService(&memRepo{}, fixedGate{entitlement.Access{Level: entitlement.AccessFull}})

	_, _, err := svc.Create(context.Background(), viewer(), validReq)
	if !errx.IsType(err, errx.TypeForbidden) {
		t.Fatalf("error = %v, want forbidden", err)
	}
}

func TestCreateBlockedOnReadonlyPlan(t *testing.T) {
	repo := &memRepo{}
	gate := fixedGate{entitlement.Access{
		Level:  entitlement.AccessReadOnly,
		Reason: entitlement.ReasonTrialExpired,
	}}
	svc := patientssrv.NewService(repo, gate)

	_, _, err := svc.Create(context.Background(), owner(), validReq)
	if !errx.IsType(err, errx.TypeForbidden) {
		t.Fatalf("error = %v, want forbidden", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("patient must not be created on a readonly plan")
	}
}

func TestCreateRejectsInvalidRange(t *testing.T) {
	svc := patientssrv.NewService(&memRepo{}, fixedGate{entitlement.Access{Level: entitlement.AccessFull}})

	req := validReq
	req.MinINR = 3.0
	req.MaxINR = 2.0
	_, _, err := svc.Create(context.Background(), owner(), req)
	if !errx.IsType(err, errx.TypeValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestViewerCanStillRead(t *testing.T) {
	repo := &memRepo{}
	svc := patientssrv.NewService(repo, fixedGate{entitlement.Access{Level: entitlement.AccessFull}})
	ctx := context.Background()

	patient, _, err := svc.Create(ctx, owner(), validReq)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, rng, err := svc.Get(ctx, viewer(), patient.ID)
	if err != nil {
		t.Fatalf("Get as viewer: %v", err)
	}
	if got.ID != patient.ID || rng == nil {
		t.Fatal("viewer read returned wrong data")
	}
}
