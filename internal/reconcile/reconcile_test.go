package reconcile

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/registry"
)

var testNow = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func newTestReconciler(seed registry.Seed) *Reconciler {
	r := New(registry.New(seed), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return testNow }
	return r
}

func ptr(v float64) *float64 { return &v }

func smallSeed() registry.Seed {
	return registry.Seed{
		Datasets: []registry.Dataset{
			{ID: "ds-1", Name: "Card transactions", Domain: registry.DomainFinance, Sensitive: true},
			{ID: "ds-2", Name: "Public tickers", Domain: registry.DomainFinance},
		},
		Models: []registry.Model{
			{ID: "m-5", Name: "Fraud Detector", Domain: registry.DomainFinance, Accuracy: 0.93, LatencyMs: 40, ApprovalStatus: registry.ApprovalPending, DatasetID: "ds-1", CreatedAt: testNow.Add(-1 * time.Hour)},
			{ID: "m-6", Name: "Ticker Forecaster", Domain: registry.DomainFinance, Accuracy: 0.88, LatencyMs: 300, ApprovalStatus: registry.ApprovalApproved, DatasetID: "ds-2", CreatedAt: testNow.Add(-2 * time.Hour)},
			{ID: "m-7", Name: "Triage Assistant", Domain: registry.DomainHealthcare, Accuracy: 0.97, LatencyMs: 90, ApprovalStatus: registry.ApprovalApproved, CreatedAt: testNow.Add(-3 * time.Hour)},
		},
		Approvals: []registry.ApprovalRequest{
			{ID: "req-1", ModelID: "m-5", ModelName: "Fraud Detector", Status: registry.ApprovalPending, Timestamp: testNow.Add(-time.Hour)},
		},
	}
}

func TestApply_SearchFinanceHighAccuracy(t *testing.T) {
	r := newTestReconciler(registry.DefaultSeed())

	res, err := r.Apply(intent.Search{Domain: registry.DomainFinance, MinAccuracy: ptr(0.9)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	sr, ok := res.(SearchResult)
	if !ok {
		t.Fatalf("result = %T, want SearchResult", res)
	}
	if len(sr.Models) > PageSize {
		t.Errorf("got %d models, want at most %d", len(sr.Models), PageSize)
	}
	if sr.Total < len(sr.Models) {
		t.Errorf("Total = %d, less than page length %d", sr.Total, len(sr.Models))
	}
	for _, m := range sr.Models {
		if m.Domain != registry.DomainFinance || m.Accuracy < 0.9 {
			t.Errorf("model %s (%s, %.3f) violates filter", m.ID, m.Domain, m.Accuracy)
		}
	}
}

func TestApply_SearchFilterCorrectness(t *testing.T) {
	r := newTestReconciler(registry.DefaultSeed())
	snap := r.store.Snapshot()

	queries := []intent.Search{
		{},
		{Domain: registry.DomainRetail},
		{MinAccuracy: ptr(0.95)},
		{MaxLatency: ptr(50)},
		{Domain: registry.DomainEnergy, MaxLatency: ptr(250), SortBy: intent.SortAccuracy},
		{SensitiveOnly: true, SortBy: intent.SortCreated},
		{MinAccuracy: ptr(1)},
	}
	for _, q := range queries {
		res, err := r.Apply(q)
		if err != nil {
			t.Fatalf("Apply(%+v): %v", q, err)
		}
		sr := res.(SearchResult)
		if len(sr.Models) > PageSize {
			t.Errorf("%+v: %d models", q, len(sr.Models))
		}
		for _, m := range sr.Models {
			if q.Domain != "" && m.Domain != q.Domain {
				t.Errorf("%+v: model %s has domain %s", q, m.ID, m.Domain)
			}
			if q.MinAccuracy != nil && m.Accuracy < *q.MinAccuracy {
				t.Errorf("%+v: model %s accuracy %.3f", q, m.ID, m.Accuracy)
			}
			if q.MaxLatency != nil && m.LatencyMs > *q.MaxLatency {
				t.Errorf("%+v: model %s latency %.0f", q, m.ID, m.LatencyMs)
			}
			if q.SensitiveOnly {
				ds, ok := snap.Dataset(m.DatasetID)
				if !ok || !ds.Sensitive {
					t.Errorf("%+v: model %s dataset %s not sensitive", q, m.ID, m.DatasetID)
				}
			}
		}
	}
}

func TestApply_SearchSortsDescending(t *testing.T) {
	r := newTestReconciler(smallSeed())

	tests := []struct {
		key  intent.SortKey
		want []string
	}{
		{intent.SortAccuracy, []string{"m-7", "m-5", "m-6"}},
		{intent.SortLatency, []string{"m-6", "m-7", "m-5"}},
		{intent.SortCreated, []string{"m-5", "m-6", "m-7"}},
		{"", []string{"m-5", "m-6", "m-7"}},
	}
	for _, tt := range tests {
		res, err := r.Apply(intent.Search{SortBy: tt.key})
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, m := range res.(SearchResult).Models {
			ids = append(ids, m.ID)
		}
		if diff := cmp.Diff(tt.want, ids); diff != "" {
			t.Errorf("sort %q mismatch (-want +got):\n%s", tt.key, diff)
		}
	}
}

func TestApply_SearchSensitiveOnly(t *testing.T) {
	r := newTestReconciler(smallSeed())
	res, _ := r.Apply(intent.Search{SensitiveOnly: true})
	sr := res.(SearchResult)
	if len(sr.Models) != 1 || sr.Models[0].ID != "m-5" {
		t.Errorf("models = %+v, want only m-5", sr.Models)
	}
}

func TestApply_SearchIsReadOnly(t *testing.T) {
	r := newTestReconciler(registry.DefaultSeed())
	before := r.store.Snapshot()
	r.Apply(intent.Search{SortBy: intent.SortLatency})
	if r.store.Snapshot() != before {
		t.Error("search published a new snapshot")
	}
	if before.Models[0].ID != "m-1" {
		t.Errorf("sorting mutated the shared collection: first = %s", before.Models[0].ID)
	}
}

func TestApply_UpdateApprovalConsistentWrite(t *testing.T) {
	r := newTestReconciler(smallSeed())

	res, err := r.Apply(intent.UpdateApproval{ModelID: "m-5", Decision: registry.ApprovalApproved})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ar := res.(ApprovalResult)
	if !ar.Decision.Applied {
		t.Fatalf("decision not applied: %s", ar.Decision.Reason)
	}
	if ar.Queue[0].Status != registry.ApprovalApproved {
		t.Errorf("queue status = %s, want Approved", ar.Queue[0].Status)
	}

	snap := r.store.Snapshot()
	m, _ := snap.Model("m-5")
	if m.ApprovalStatus != registry.ApprovalApproved || snap.Approvals[0].Status != registry.ApprovalApproved {
		t.Errorf("model %s / request %s, want both Approved", m.ApprovalStatus, snap.Approvals[0].Status)
	}
}

func TestApply_UpdateApprovalTwiceIsIdempotent(t *testing.T) {
	r := newTestReconciler(smallSeed())
	in := intent.UpdateApproval{ModelID: "m-5", Decision: registry.ApprovalApproved}

	r.Apply(in)
	after1 := r.store.Snapshot()
	res, err := r.Apply(in)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.(ApprovalResult).Decision.Applied {
		t.Error("second decision reported as applied")
	}
	if r.store.Snapshot() != after1 {
		t.Error("second decision published a new snapshot")
	}
}

func TestApply_UpdateApprovalEmptyQueue(t *testing.T) {
	seed := smallSeed()
	seed.Approvals = nil
	r := newTestReconciler(seed)
	before := r.store.Snapshot()

	res, err := r.Apply(intent.UpdateApproval{ModelID: "m-5", Decision: registry.ApprovalApproved})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.(ApprovalResult).Decision.Applied {
		t.Error("decision applied against an empty queue")
	}
	after := r.store.Snapshot()
	if !reflect.DeepEqual(before.Models, after.Models) || !reflect.DeepEqual(before.Approvals, after.Approvals) {
		t.Error("collections changed")
	}
}

func TestApply_UpdateApprovalUnknownModel(t *testing.T) {
	r := newTestReconciler(smallSeed())
	before := r.store.Snapshot()

	if _, err := r.Apply(intent.UpdateApproval{ModelID: "m-404", Decision: registry.ApprovalRejected}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.store.Snapshot() != before {
		t.Error("unknown model changed the store")
	}
}

func TestApply_RegisterFormOnly(t *testing.T) {
	r := newTestReconciler(smallSeed())
	before := r.store.Snapshot()

	res, err := r.Apply(intent.Register{InitialName: "Churn Predictor"})
	if err != nil {
		t.Fatal(err)
	}
	form := res.(FormResult)
	if form.Submitted != nil {
		t.Error("form-only register created a model")
	}
	if form.Defaults.Name != "Churn Predictor" || form.Defaults.ApprovalStatus != registry.ApprovalPending {
		t.Errorf("defaults = %+v", form.Defaults)
	}
	if r.store.Snapshot() != before {
		t.Error("form-only register changed the store")
	}
}

func TestApply_RegisterTwiceDistinctIDs(t *testing.T) {
	r := newTestReconciler(smallSeed())

	var ids []string
	for range 2 {
		in, err := intent.NewRegisterSubmission(registry.Draft{
			Name:           "Test Model",
			ApprovalStatus: registry.ApprovalApproved,
			Stage:          registry.StageProduction,
		})
		if err != nil {
			t.Fatal(err)
		}
		res, err := r.Apply(in)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		form := res.(FormResult)
		if form.Submitted == nil || form.Request == nil {
			t.Fatal("register did not submit")
		}
		m := *form.Submitted
		if m.ApprovalStatus != registry.ApprovalPending || m.Stage != registry.StageExperimental {
			t.Errorf("model %s is %s/%s, want Pending/Experimental", m.ID, m.ApprovalStatus, m.Stage)
		}
		if form.Request.ModelID != m.ID {
			t.Errorf("request references %s, want %s", form.Request.ModelID, m.ID)
		}
		ids = append(ids, m.ID)
	}
	if ids[0] == ids[1] {
		t.Errorf("both registrations got id %s", ids[0])
	}

	snap := r.store.Snapshot()
	if snap.Models[0].ID != ids[1] || snap.Models[1].ID != ids[0] {
		t.Errorf("new models not at the front: %s, %s", snap.Models[0].ID, snap.Models[1].ID)
	}
}

func TestApply_RegisterUnknownDataset(t *testing.T) {
	r := newTestReconciler(smallSeed())
	before := r.store.Snapshot()

	in, err := intent.NewRegisterSubmission(registry.Draft{Name: "Orphan", DatasetID: "ds-nope"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Apply(in); !errors.Is(err, registry.ErrUnknownDataset) {
		t.Fatalf("Apply err = %v, want ErrUnknownDataset", err)
	}
	if r.store.Snapshot() != before {
		t.Error("refused registration changed the store")
	}
}

func TestApply_Compare(t *testing.T) {
	r := newTestReconciler(smallSeed())
	in, _ := intent.NewCompare([]string{"m-7", "m-404", "m-5"})

	res, err := r.Apply(in)
	if err != nil {
		t.Fatal(err)
	}
	cr := res.(CompareResult)
	var ids []string
	for _, m := range cr.Models {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m-7", "m-5"}, ids); diff != "" {
		t.Errorf("compare ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m-404"}, cr.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_ApprovalQueue(t *testing.T) {
	r := newTestReconciler(smallSeed())
	res, _ := r.Apply(intent.ApprovalQueue{})
	q := res.(QueueResult)
	if len(q.Requests) != 1 || q.Requests[0].ID != "req-1" {
		t.Errorf("queue = %+v", q.Requests)
	}
}

func TestApply_RequestApproval(t *testing.T) {
	seed := smallSeed()
	seed.Models = append(seed.Models, registry.Model{ID: "m-8", Name: "Shelf Scanner", Domain: registry.DomainRetail, ApprovalStatus: registry.ApprovalPending})
	r := newTestReconciler(seed)

	in, err := intent.NewRequestApproval("m-8", "a.chen")
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Apply(in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rr := res.(RequestResult)
	if rr.Request.ModelID != "m-8" || rr.Request.RequestedBy != "a.chen" || rr.Request.Status != registry.ApprovalPending {
		t.Errorf("request = %+v", rr.Request)
	}
	if len(rr.Queue) != 2 || rr.Queue[0].ID != rr.Request.ID {
		t.Errorf("queue = %+v, want new request first", rr.Queue)
	}

	tests := []struct {
		modelID string
		want    error
	}{
		{"m-8", registry.ErrApprovalOpen},
		{"m-6", registry.ErrModelDecided},
		{"m-404", registry.ErrModelNotFound},
	}
	for _, tt := range tests {
		before := r.store.Snapshot()
		_, err := r.Apply(intent.RequestApproval{ModelID: tt.modelID, RequestedBy: "a.chen"})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.modelID, err, tt.want)
		}
		if r.store.Snapshot() != before {
			t.Errorf("%s: refused request changed the store", tt.modelID)
		}
	}
}

func TestApply_RunAutoML(t *testing.T) {
	r := newTestReconciler(smallSeed())
	before := r.store.Snapshot()

	res, err := r.Apply(intent.RunAutoML{Platform: "sagemaker", DatasetID: "ds-1", Task: "classification"})
	if err != nil {
		t.Fatal(err)
	}
	job := res.(AutoMLJob)
	if !strings.HasPrefix(job.ID, "job-") || job.Status != JobQueued {
		t.Errorf("job = %+v", job)
	}
	if job.DatasetName != "Card transactions" || !job.QueuedAt.Equal(testNow) {
		t.Errorf("job = %+v", job)
	}
	if r.store.Snapshot() != before {
		t.Error("automl changed the store")
	}
}

func TestApply_None(t *testing.T) {
	r := newTestReconciler(smallSeed())
	res, err := r.Apply(intent.None{Note: "missing platform"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(NoResult{Note: "missing platform"}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
