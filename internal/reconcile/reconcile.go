package reconcile

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/registry"
)

// PageSize caps the number of models a search returns.
const PageSize = 5

// Reconciler applies intents to the registry store. It is the only writer
// of the store's collections.
type Reconciler struct {
	store *registry.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Reconciler. A nil logger selects slog.Default().
func New(store *registry.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, log: logger, now: time.Now}
}

// Store returns the underlying registry store.
func (r *Reconciler) Store() *registry.Store {
	return r.store
}

// Apply executes the intent. Referential failures, such as deciding an
// approval that does not exist, are logged and leave the store untouched;
// they are not errors. An error means the store refused or could not
// complete a write: an unknown dataset on registration, or a request
// that cannot be opened.
func (r *Reconciler) Apply(in intent.Intent) (Result, error) {
	switch in := in.(type) {
	case intent.None:
		return NoResult{Note: in.Note}, nil
	case intent.Search:
		return r.search(in), nil
	case intent.Compare:
		return r.compare(in), nil
	case intent.ApprovalQueue:
		return QueueResult{Requests: r.store.Snapshot().Approvals}, nil
	case intent.Register:
		return r.register(in)
	case intent.UpdateApproval:
		return r.decide(in)
	case intent.RunAutoML:
		return r.automl(in), nil
	case intent.RequestApproval:
		return r.requestApproval(in)
	}
	return nil, fmt.Errorf("reconcile: unhandled intent %T", in)
}

func (r *Reconciler) search(q intent.Search) SearchResult {
	snap := r.store.Snapshot()

	var matched []registry.Model
	for _, m := range snap.Models {
		if q.Domain != "" && m.Domain != q.Domain {
			continue
		}
		if q.MinAccuracy != nil && m.Accuracy < *q.MinAccuracy {
			continue
		}
		if q.MaxLatency != nil && m.LatencyMs > *q.MaxLatency {
			continue
		}
		if q.SensitiveOnly {
			ds, ok := snap.Dataset(m.DatasetID)
			if !ok || !ds.Sensitive {
				continue
			}
		}
		matched = append(matched, m)
	}

	if key := sortKey(q.SortBy); key != nil {
		slices.SortStableFunc(matched, func(a, b registry.Model) int {
			return key(b, a)
		})
	}

	total := len(matched)
	if len(matched) > PageSize {
		matched = matched[:PageSize]
	}
	return SearchResult{Filter: q, Models: matched, Total: total}
}

// sortKey returns an ascending comparison for the key, or nil for no sort.
func sortKey(k intent.SortKey) func(a, b registry.Model) int {
	switch k {
	case intent.SortAccuracy:
		return func(a, b registry.Model) int { return cmp.Compare(a.Accuracy, b.Accuracy) }
	case intent.SortLatency:
		return func(a, b registry.Model) int { return cmp.Compare(a.LatencyMs, b.LatencyMs) }
	case intent.SortCreated:
		return func(a, b registry.Model) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
	return nil
}

func (r *Reconciler) compare(c intent.Compare) CompareResult {
	snap := r.store.Snapshot()
	var res CompareResult
	for _, id := range c.IDs {
		m, ok := snap.Model(id)
		if !ok {
			r.log.Info("compare skipped unknown model", "model_id", id)
			res.Missing = append(res.Missing, id)
			continue
		}
		res.Models = append(res.Models, m)
	}
	return res
}

func (r *Reconciler) register(in intent.Register) (Result, error) {
	form := FormResult{InitialName: in.InitialName, Defaults: registry.Template()}
	if in.InitialName != "" {
		form.Defaults.Name = in.InitialName
	}
	if in.Draft == nil {
		return form, nil
	}

	reg, err := r.store.Register(*in.Draft, r.now())
	if err != nil {
		return nil, fmt.Errorf("registering model: %w", err)
	}
	r.log.Info("model registered", "model_id", reg.Model.ID, "name", reg.Model.Name, "request_id", reg.Request.ID)
	form.Submitted = &reg.Model
	form.Request = &reg.Request
	return form, nil
}

func (r *Reconciler) decide(in intent.UpdateApproval) (Result, error) {
	d, err := r.store.Decide(in.ModelID, in.Decision, r.now())
	if err != nil {
		return nil, fmt.Errorf("deciding approval: %w", err)
	}
	if d.Applied {
		r.log.Info("approval decided", "model_id", in.ModelID, "request_id", d.Request.ID, "status", d.Request.Status)
	} else {
		r.log.Info("approval decision skipped", "model_id", in.ModelID, "decision", in.Decision, "reason", d.Reason)
	}
	return ApprovalResult{Decision: d, Queue: r.store.Snapshot().Approvals}, nil
}

func (r *Reconciler) requestApproval(in intent.RequestApproval) (Result, error) {
	req, err := r.store.OpenApproval(in.ModelID, in.RequestedBy, r.now())
	if err != nil {
		return nil, fmt.Errorf("opening approval: %w", err)
	}
	r.log.Info("approval requested", "model_id", req.ModelID, "request_id", req.ID, "requested_by", req.RequestedBy)
	return RequestResult{Request: req, Queue: r.store.Snapshot().Approvals}, nil
}

func (r *Reconciler) automl(in intent.RunAutoML) AutoMLJob {
	job := AutoMLJob{
		ID:                 "job-" + uuid.NewString(),
		Platform:           in.Platform,
		DatasetID:          in.DatasetID,
		Task:               in.Task,
		OptimizationMetric: in.OptimizationMetric,
		Status:             JobQueued,
		QueuedAt:           r.now().UTC(),
	}
	if ds, ok := r.store.Snapshot().Dataset(in.DatasetID); ok {
		job.DatasetName = ds.Name
	}
	r.log.Info("automl run queued", "job_id", job.ID, "platform", job.Platform, "dataset_id", job.DatasetID)
	return job
}
