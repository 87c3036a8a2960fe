// Package present turns an applied intent into a rendering directive for
// the display widgets. It holds no state and never writes to the registry.
package present

import (
	"errors"
	"fmt"

	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/reconcile"
	"github.com/kalambet/modelbench/internal/registry"
)

// ErrContractViolation means a directive could not be built because the
// result did not have the shape its intent requires. It is always a bug.
var ErrContractViolation = errors.New("rendering contract violation")

// DirectiveType selects the widget that renders a directive.
type DirectiveType string

const (
	TypeModelList      DirectiveType = "model-list"
	TypeComparison     DirectiveType = "comparison"
	TypeApprovalQueue  DirectiveType = "approval-queue"
	TypeSubmissionForm DirectiveType = "submission-form"
	TypeAutoMLStatus   DirectiveType = "automl-status"
)

// DirectiveTypes lists every directive type.
var DirectiveTypes = []DirectiveType{
	TypeModelList,
	TypeComparison,
	TypeApprovalQueue,
	TypeSubmissionForm,
	TypeAutoMLStatus,
}

// Directive tells the UI which widget to mount and with what. The concrete
// type of Data is fixed by Type.
type Directive struct {
	Type DirectiveType `json:"type"`
	Data any           `json:"data"`
}

// ModelList is the data of a model-list directive.
type ModelList struct {
	Models []registry.Model `json:"models"`
	Total  int              `json:"total"`
	Filter SearchFilter     `json:"filter"`
	Notes  []string         `json:"notes,omitempty"`
}

// SearchFilter echoes the filters that produced a model list.
type SearchFilter struct {
	Domain        string   `json:"domain,omitempty"`
	MinAccuracy   *float64 `json:"min_accuracy,omitempty"`
	MaxLatency    *float64 `json:"max_latency,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"`
	SensitiveOnly bool     `json:"sensitive_only,omitempty"`
}

// Comparison is the data of a comparison directive.
type Comparison struct {
	Models  []registry.Model `json:"models"`
	Missing []string         `json:"missing,omitempty"`
}

// ApprovalQueue is the data of an approval-queue directive. Decision is set
// when the directive answers an approve or reject action, Opened when it
// answers a new approval request.
type ApprovalQueue struct {
	Requests []registry.ApprovalRequest `json:"requests"`
	Pending  int                        `json:"pending"`
	Decision *DecisionOutcome           `json:"decision,omitempty"`
	Opened   *registry.ApprovalRequest  `json:"opened,omitempty"`
}

// DecisionOutcome reports what an approve or reject action did.
type DecisionOutcome struct {
	ModelID string                  `json:"model_id"`
	Status  registry.ApprovalStatus `json:"status"`
	Applied bool                    `json:"applied"`
	Reason  string                  `json:"reason,omitempty"`
}

// SubmissionForm is the data of a submission-form directive.
type SubmissionForm struct {
	InitialName string                    `json:"initial_name,omitempty"`
	Defaults    registry.Model            `json:"defaults"`
	Submitted   *registry.Model           `json:"submitted,omitempty"`
	Request     *registry.ApprovalRequest `json:"request,omitempty"`
}

// AutoMLStatus is the data of an automl-status directive.
type AutoMLStatus struct {
	Job reconcile.AutoMLJob `json:"job"`
}

// Types maps each intent kind to its directive type. KindNone has no
// directive and is absent.
var Types = map[intent.Kind]DirectiveType{
	intent.KindSearch:         TypeModelList,
	intent.KindCompare:        TypeComparison,
	intent.KindApprovalQueue:  TypeApprovalQueue,
	intent.KindUpdateApproval: TypeApprovalQueue,
	intent.KindRegister:       TypeSubmissionForm,
	intent.KindRunAutoML:      TypeAutoMLStatus,

	intent.KindRequestApproval: TypeApprovalQueue,
}

// Present builds the directive for an applied intent. NONE yields a nil
// directive, which means "nothing to render" and is distinct from an
// empty list.
func Present(in intent.Intent, res reconcile.Result) (*Directive, error) {
	if in == nil || in.Kind() == intent.KindNone {
		return nil, nil
	}
	typ, ok := Types[in.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: no directive for intent %s", ErrContractViolation, in.Kind())
	}

	var data any
	switch r := res.(type) {
	case reconcile.SearchResult:
		data = modelList(r)
	case reconcile.CompareResult:
		data = Comparison{Models: nonNil(r.Models), Missing: r.Missing}
	case reconcile.QueueResult:
		data = approvalQueue(r.Requests, nil)
	case reconcile.ApprovalResult:
		u, _ := in.(intent.UpdateApproval)
		data = approvalQueue(r.Queue, &DecisionOutcome{
			ModelID: u.ModelID,
			Status:  u.Decision,
			Applied: r.Decision.Applied,
			Reason:  r.Decision.Reason,
		})
	case reconcile.RequestResult:
		q := approvalQueue(r.Queue, nil)
		q.Opened = &r.Request
		data = q
	case reconcile.FormResult:
		data = SubmissionForm{
			InitialName: r.InitialName,
			Defaults:    r.Defaults,
			Submitted:   r.Submitted,
			Request:     r.Request,
		}
	case reconcile.AutoMLJob:
		data = AutoMLStatus{Job: r}
	default:
		return nil, fmt.Errorf("%w: intent %s produced %T", ErrContractViolation, in.Kind(), res)
	}

	if got := typeOf(data); got != typ {
		return nil, fmt.Errorf("%w: intent %s wants %s, result renders as %s", ErrContractViolation, in.Kind(), typ, got)
	}
	return &Directive{Type: typ, Data: data}, nil
}

// typeOf returns the directive type whose contract data satisfies.
func typeOf(data any) DirectiveType {
	switch data.(type) {
	case ModelList:
		return TypeModelList
	case Comparison:
		return TypeComparison
	case ApprovalQueue:
		return TypeApprovalQueue
	case SubmissionForm:
		return TypeSubmissionForm
	case AutoMLStatus:
		return TypeAutoMLStatus
	}
	return ""
}

func modelList(r reconcile.SearchResult) ModelList {
	f := r.Filter
	return ModelList{
		Models: nonNil(r.Models),
		Total:  r.Total,
		Filter: SearchFilter{
			Domain:        string(f.Domain),
			MinAccuracy:   f.MinAccuracy,
			MaxLatency:    f.MaxLatency,
			SortBy:        string(f.SortBy),
			SensitiveOnly: f.SensitiveOnly,
		},
		Notes: f.Notes,
	}
}

func approvalQueue(reqs []registry.ApprovalRequest, d *DecisionOutcome) ApprovalQueue {
	q := ApprovalQueue{Requests: nonNil(reqs), Decision: d}
	for _, r := range reqs {
		if r.Status == registry.ApprovalPending {
			q.Pending++
		}
	}
	return q
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
