package registry

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable view of the registry collections. The slices
// are shared between readers and must never be modified.
type Snapshot struct {
	Models    []Model
	Approvals []ApprovalRequest
	Datasets  []Dataset
	Version   uint64
}

// Model returns the model with the given id.
func (s *Snapshot) Model(id string) (Model, bool) {
	i := s.modelIndex(id)
	if i < 0 {
		return Model{}, false
	}
	return s.Models[i], true
}

// Dataset returns the dataset with the given id.
func (s *Snapshot) Dataset(id string) (Dataset, bool) {
	for _, d := range s.Datasets {
		if d.ID == id {
			return d, true
		}
	}
	return Dataset{}, false
}

func (s *Snapshot) modelIndex(id string) int {
	return slices.IndexFunc(s.Models, func(m Model) bool { return m.ID == id })
}

// approvalIndex returns the request for modelID, preferring a pending one.
func (s *Snapshot) approvalIndex(modelID string) int {
	found := -1
	for i, r := range s.Approvals {
		if r.ModelID != modelID {
			continue
		}
		if r.Status == ApprovalPending {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}

// Store owns the canonical model and approval collections. Writes are
// serialized and publish a fresh snapshot; reads never block on writes.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates a store seeded with copies of the given collections.
func New(seed Seed) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{
		Models:    slices.Clone(seed.Models),
		Approvals: slices.Clone(seed.Approvals),
		Datasets:  slices.Clone(seed.Datasets),
	})
	return s
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// publish must be called with mu held.
func (s *Store) publish(next *Snapshot) {
	next.Version = s.current.Load().Version + 1
	s.current.Store(next)
}

// Registration is the outcome of Register.
type Registration struct {
	Model   Model
	Request ApprovalRequest
}

// Register adds a new model built from the template and draft. The new
// model always starts Pending and Experimental, goes to the front of the
// model list, and gets a pending approval request in the same write. A
// draft naming a dataset the registry does not hold is refused with
// ErrUnknownDataset.
func (s *Store) Register(d Draft, now time.Time) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()

	if d.DatasetID != "" {
		if _, ok := cur.Dataset(d.DatasetID); !ok {
			return Registration{}, fmt.Errorf("%w: %s", ErrUnknownDataset, d.DatasetID)
		}
	}

	id, err := newModelID(cur)
	if err != nil {
		return Registration{}, err
	}

	m := d.merge(Template())
	m.ID = id
	m.ApprovalStatus = ApprovalPending
	m.Stage = StageExperimental
	m.CreatedAt = now.UTC()

	req := ApprovalRequest{
		ID:          "req-" + uuid.NewString(),
		ModelID:     m.ID,
		ModelName:   m.Name,
		RequestedBy: m.Owner,
		Status:      ApprovalPending,
		Timestamp:   now.UTC(),
	}

	models := make([]Model, 0, len(cur.Models)+1)
	models = append(models, m)
	models = append(models, cur.Models...)

	approvals := make([]ApprovalRequest, 0, len(cur.Approvals)+1)
	approvals = append(approvals, req)
	approvals = append(approvals, cur.Approvals...)

	s.publish(&Snapshot{Models: models, Approvals: approvals, Datasets: cur.Datasets})
	return Registration{Model: m, Request: req}, nil
}

// newModelID returns a time-ordered id that does not collide with any
// existing model id.
func newModelID(cur *Snapshot) (string, error) {
	for range 3 {
		u, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generating model id: %w", err)
		}
		id := "m-" + u.String()
		if cur.modelIndex(id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("generating model id: repeated collision")
}

// Decision is the outcome of Decide. When Applied is false the store was
// left untouched and Reason says why.
type Decision struct {
	Applied bool
	Reason  string
	Request ApprovalRequest
	Model   Model
}

const (
	ReasonNoRequest    = "no approval request for model"
	ReasonAlreadyFinal = "approval request already decided"
	ReasonModelMissing = "approval request references missing model"
)

// Decide moves the pending approval request for modelID to the given
// terminal status and mirrors it onto the model. Both changes land in a
// single published snapshot. A missing or already decided request is a
// no-op, so repeating a decision is safe.
func (s *Store) Decide(modelID string, decision ApprovalStatus, now time.Time) (Decision, error) {
	if !decision.Terminal() {
		return Decision{}, fmt.Errorf("%w: got %q", ErrInvalidDecision, decision)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()

	ri := cur.approvalIndex(modelID)
	if ri < 0 {
		return Decision{Reason: ReasonNoRequest}, nil
	}
	req := cur.Approvals[ri]
	if req.Status.Terminal() {
		m, _ := cur.Model(modelID)
		return Decision{Reason: ReasonAlreadyFinal, Request: req, Model: m}, nil
	}
	mi := cur.modelIndex(modelID)
	if mi < 0 {
		return Decision{Reason: ReasonModelMissing, Request: req}, nil
	}

	decidedAt := now.UTC()
	req.Status = decision
	req.DecidedAt = &decidedAt

	m := cur.Models[mi]
	m.ApprovalStatus = decision

	approvals := slices.Clone(cur.Approvals)
	approvals[ri] = req
	models := slices.Clone(cur.Models)
	models[mi] = m

	s.publish(&Snapshot{Models: models, Approvals: approvals, Datasets: cur.Datasets})
	return Decision{Applied: true, Request: req, Model: m}, nil
}

// OpenApproval opens a pending approval request for an existing model that
// has not been decided yet.
func (s *Store) OpenApproval(modelID, requestedBy string, now time.Time) (ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()

	m, ok := cur.Model(modelID)
	if !ok {
		return ApprovalRequest{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	if m.ApprovalStatus.Terminal() {
		return ApprovalRequest{}, fmt.Errorf("%w: %s is %s", ErrModelDecided, modelID, m.ApprovalStatus)
	}
	if ri := cur.approvalIndex(modelID); ri >= 0 && cur.Approvals[ri].Status == ApprovalPending {
		return ApprovalRequest{}, fmt.Errorf("%w: %s", ErrApprovalOpen, cur.Approvals[ri].ID)
	}

	req := ApprovalRequest{
		ID:          "req-" + uuid.NewString(),
		ModelID:     m.ID,
		ModelName:   m.Name,
		RequestedBy: requestedBy,
		Status:      ApprovalPending,
		Timestamp:   now.UTC(),
	}

	approvals := make([]ApprovalRequest, 0, len(cur.Approvals)+1)
	approvals = append(approvals, req)
	approvals = append(approvals, cur.Approvals...)

	s.publish(&Snapshot{Models: cur.Models, Approvals: approvals, Datasets: cur.Datasets})
	return req, nil
}
