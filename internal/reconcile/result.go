package reconcile

import (
	"time"

	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/registry"
)

// Result is what applying an intent produced. The set of implementations
// is closed to this package.
type Result interface {
	isResult()
}

// NoResult is returned for intents that ask for nothing.
type NoResult struct {
	Note string
}

// SearchResult is one page of matching models.
type SearchResult struct {
	Filter intent.Search
	Models []registry.Model
	Total  int
}

// CompareResult holds the requested models in request order. Missing lists
// ids that did not resolve.
type CompareResult struct {
	Models  []registry.Model
	Missing []string
}

// QueueResult is the approval request collection as of the read.
type QueueResult struct {
	Requests []registry.ApprovalRequest
}

// FormResult prefills the registration form. Submitted and Request are set
// when a draft was registered.
type FormResult struct {
	InitialName string
	Defaults    registry.Model
	Submitted   *registry.Model
	Request     *registry.ApprovalRequest
}

// ApprovalResult reports a decision attempt together with the queue after it.
type ApprovalResult struct {
	Decision registry.Decision
	Queue    []registry.ApprovalRequest
}

// RequestResult carries a newly opened approval request and the queue
// that now contains it.
type RequestResult struct {
	Request registry.ApprovalRequest
	Queue   []registry.ApprovalRequest
}

const JobQueued = "queued"

// AutoMLJob describes an accepted AutoML run. Nothing executes it.
type AutoMLJob struct {
	ID                 string    `json:"id"`
	Platform           string    `json:"platform"`
	DatasetID          string    `json:"dataset_id"`
	DatasetName        string    `json:"dataset_name,omitempty"`
	Task               string    `json:"task"`
	OptimizationMetric string    `json:"optimization_metric,omitempty"`
	Status             string    `json:"status"`
	QueuedAt           time.Time `json:"queued_at"`
}

func (NoResult) isResult()       {}
func (SearchResult) isResult()   {}
func (CompareResult) isResult()  {}
func (QueueResult) isResult()    {}
func (FormResult) isResult()     {}
func (ApprovalResult) isResult() {}
func (RequestResult) isResult()  {}
func (AutoMLJob) isResult()      {}
