package intent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/modelbench/internal/registry"
)

var (
	// ErrInvalidCompare is returned when a comparison does not name 2 to 4 distinct models.
	ErrInvalidCompare = errors.New("compare needs between 2 and 4 distinct model ids")
	// ErrMissingModelID is returned when an approval decision names no model.
	ErrMissingModelID = errors.New("model id is required")
)

// Kind tags an Intent.
type Kind string

const (
	KindNone           Kind = "NONE"
	KindSearch         Kind = "SEARCH"
	KindCompare        Kind = "COMPARE"
	KindRegister       Kind = "REGISTER"
	KindUpdateApproval Kind = "UPDATE_APPROVAL"
	KindApprovalQueue  Kind = "APPROVAL_QUEUE"
	KindRunAutoML      Kind = "RUN_AUTOML"

	// KindRequestApproval is UI-originated; the agent's toolset has no
	// tool that produces it.
	KindRequestApproval Kind = "REQUEST_APPROVAL"
)

// Kinds lists every intent kind.
var Kinds = []Kind{
	KindNone,
	KindSearch,
	KindCompare,
	KindRegister,
	KindUpdateApproval,
	KindApprovalQueue,
	KindRunAutoML,
	KindRequestApproval,
}

// Intent is the validated classification of one user turn. The set of
// implementations is closed to this package.
type Intent interface {
	Kind() Kind
	isIntent()
}

// None asks for nothing. Note explains a downgrade, if there was one.
type None struct {
	Note string
}

// SortKey orders search results, highest first.
type SortKey string

const (
	SortAccuracy SortKey = "accuracy"
	SortLatency  SortKey = "latency"
	SortCreated  SortKey = "created"
)

// Search filters the model registry. Zero or nil fields impose no filter.
type Search struct {
	Domain        registry.Domain
	MinAccuracy   *float64
	MaxLatency    *float64
	SortBy        SortKey
	SensitiveOnly bool
	Notes         []string
}

// Compare places up to four models side by side.
type Compare struct {
	IDs []string
}

// Register opens the registration form. Draft is set when the form was
// submitted and a model must be created.
type Register struct {
	InitialName string
	Draft       *registry.Draft
}

// UpdateApproval decides the pending approval request of a model.
type UpdateApproval struct {
	ModelID  string
	Decision registry.ApprovalStatus
}

type ApprovalQueue struct{}

// RequestApproval opens a pending approval request for an undecided model.
type RequestApproval struct {
	ModelID     string
	RequestedBy string
}

// RunAutoML requests an AutoML run on a managed platform.
type RunAutoML struct {
	Platform           string
	DatasetID          string
	Task               string
	OptimizationMetric string
}

func (None) Kind() Kind            { return KindNone }
func (Search) Kind() Kind          { return KindSearch }
func (Compare) Kind() Kind         { return KindCompare }
func (Register) Kind() Kind        { return KindRegister }
func (UpdateApproval) Kind() Kind  { return KindUpdateApproval }
func (ApprovalQueue) Kind() Kind   { return KindApprovalQueue }
func (RunAutoML) Kind() Kind       { return KindRunAutoML }
func (RequestApproval) Kind() Kind { return KindRequestApproval }

func (None) isIntent()            {}
func (Search) isIntent()          {}
func (Compare) isIntent()         {}
func (Register) isIntent()        {}
func (UpdateApproval) isIntent()  {}
func (ApprovalQueue) isIntent()   {}
func (RunAutoML) isIntent()       {}
func (RequestApproval) isIntent() {}

// Platforms and Tasks are the accepted AutoML parameters.
var (
	Platforms = []string{"vertex-ai", "sagemaker", "azure-ml", "databricks"}
	Tasks     = []string{"classification", "regression", "forecasting"}
)

// NewUpdateApproval validates an approve or reject action from the UI.
func NewUpdateApproval(modelID, decision string) (UpdateApproval, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return UpdateApproval{}, ErrMissingModelID
	}
	d, err := registry.ParseDecision(decision)
	if err != nil {
		return UpdateApproval{}, err
	}
	return UpdateApproval{ModelID: modelID, Decision: d}, nil
}

// DefaultRequester is recorded when an approval request names no requester.
const DefaultRequester = "unassigned"

func NewRequestApproval(modelID, requestedBy string) (RequestApproval, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return RequestApproval{}, ErrMissingModelID
	}
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		requestedBy = DefaultRequester
	}
	return RequestApproval{ModelID: modelID, RequestedBy: requestedBy}, nil
}

// NewCompare validates a comparison selection. Order is preserved.
func NewCompare(ids []string) (Compare, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if seen[id] {
			return Compare{}, fmt.Errorf("%w: %q repeated", ErrInvalidCompare, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) < 2 || len(out) > 4 {
		return Compare{}, fmt.Errorf("%w: got %d", ErrInvalidCompare, len(out))
	}
	return Compare{IDs: out}, nil
}

// NewRegisterSubmission validates a submitted registration form. Enum
// fields are normalised; an out-of-range value is an error. Whether the
// dataset exists is checked by the registry at write time.
func NewRegisterSubmission(d registry.Draft) (Register, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Domain != "" {
		dom, err := registry.ParseDomain(string(d.Domain))
		if err != nil {
			return Register{}, err
		}
		d.Domain = dom
	}
	if d.MonitoringStatus != "" {
		ms, err := registry.ParseMonitoringStatus(string(d.MonitoringStatus))
		if err != nil {
			return Register{}, err
		}
		d.MonitoringStatus = ms
	}
	d.DatasetID = strings.TrimSpace(d.DatasetID)
	return Register{InitialName: d.Name, Draft: &d}, nil
}
