package registry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrUnknownDomain is returned when a domain name is not one of the known domains.
	ErrUnknownDomain = errors.New("unknown domain")
	// ErrInvalidDecision is returned when an approval decision is not Approved or Rejected.
	ErrInvalidDecision = errors.New("decision must be Approved or Rejected")
	// ErrModelNotFound is returned when a model id does not exist in the registry.
	ErrModelNotFound = errors.New("model not found")
	// ErrApprovalOpen is returned when a model already has a pending approval request.
	ErrApprovalOpen = errors.New("approval request already open")
	// ErrModelDecided is returned when an approval is requested for an already approved or rejected model.
	ErrModelDecided = errors.New("model approval already decided")
	// ErrUnknownMonitoringStatus is returned when a monitoring status is not Healthy, Degraded or Critical.
	ErrUnknownMonitoringStatus = errors.New("unknown monitoring status")
	// ErrUnknownDataset is returned when a model references a dataset the registry does not hold.
	ErrUnknownDataset = errors.New("unknown dataset")
)

// Domain is the business area a model serves.
type Domain string

const (
	DomainFinance            Domain = "Finance"
	DomainHealthcare         Domain = "Healthcare"
	DomainRetail             Domain = "Retail"
	DomainManufacturing      Domain = "Manufacturing"
	DomainEnergy             Domain = "Energy"
	DomainTelecommunications Domain = "Telecommunications"
)

// Domains lists every known domain in display order.
var Domains = []Domain{
	DomainFinance,
	DomainHealthcare,
	DomainRetail,
	DomainManufacturing,
	DomainEnergy,
	DomainTelecommunications,
}

// ParseDomain matches s case-insensitively against the known domains.
func ParseDomain(s string) (Domain, error) {
	s = strings.TrimSpace(s)
	for _, d := range Domains {
		if strings.EqualFold(string(d), s) {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// Terminal reports whether the status can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ParseDecision accepts "approved"/"approve" and "rejected"/"reject" in any case.
func ParseDecision(s string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve":
		return ApprovalApproved, nil
	case "rejected", "reject":
		return ApprovalRejected, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidDecision, s)
}

type MonitoringStatus string

const (
	MonitoringHealthy  MonitoringStatus = "Healthy"
	MonitoringDegraded MonitoringStatus = "Degraded"
	MonitoringCritical MonitoringStatus = "Critical"
)

var MonitoringStatuses = []MonitoringStatus{MonitoringHealthy, MonitoringDegraded, MonitoringCritical}

// ParseMonitoringStatus matches s case-insensitively against the known statuses.
func ParseMonitoringStatus(s string) (MonitoringStatus, error) {
	s = strings.TrimSpace(s)
	for _, ms := range MonitoringStatuses {
		if strings.EqualFold(string(ms), s) {
			return ms, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMonitoringStatus, s)
}

type ModelStage string

const (
	StageExperimental ModelStage = "Experimental"
	StageStaging      ModelStage = "Staging"
	StageProduction   ModelStage = "Production"
	StageArchived     ModelStage = "Archived"
)

// Model is a registered ML asset. ID never changes after creation and
// ApprovalStatus only moves through the approval workflow.
type Model struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Domain           Domain           `json:"domain" yaml:"domain"`
	Accuracy         float64          `json:"accuracy" yaml:"accuracy"`
	LatencyMs        float64          `json:"latency_ms" yaml:"latency_ms"`
	ApprovalStatus   ApprovalStatus   `json:"approval_status" yaml:"approval_status"`
	MonitoringStatus MonitoringStatus `json:"monitoring_status" yaml:"monitoring_status"`
	Stage            ModelStage       `json:"model_stage" yaml:"model_stage"`
	Version          string           `json:"version" yaml:"version"`
	Owner            string           `json:"owner" yaml:"owner"`
	Framework        string           `json:"framework" yaml:"framework"`
	DatasetID        string           `json:"dataset_id,omitempty" yaml:"dataset_id"`
	Description      string           `json:"description,omitempty" yaml:"description"`
	F1Score          float64          `json:"f1_score" yaml:"f1_score"`
	CreatedAt        time.Time        `json:"created_at" yaml:"created_at"`
}

// Dataset is a training dataset referenced by models.
type Dataset struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Domain    Domain `json:"domain" yaml:"domain"`
	Sensitive bool   `json:"sensitive" yaml:"sensitive"`
}

// ApprovalRequest asks a supervisor to approve or reject a model. Once
// Status leaves Pending it never changes again.
type ApprovalRequest struct {
	ID          string         `json:"id" yaml:"id"`
	ModelID     string         `json:"model_id" yaml:"model_id"`
	ModelName   string         `json:"model_name" yaml:"model_name"`
	RequestedBy string         `json:"requested_by" yaml:"requested_by"`
	Status      ApprovalStatus `json:"status" yaml:"status"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty" yaml:"decided_at"`
}

// Draft carries caller-supplied fields for a new model. Empty fields fall
// back to the registration template. ApprovalStatus and Stage are accepted
// so callers can send whole records, but registration always overrides them.
type Draft struct {
	Name             string           `json:"name,omitempty"`
	Domain           Domain           `json:"domain,omitempty"`
	Accuracy         *float64         `json:"accuracy,omitempty"`
	LatencyMs        *float64         `json:"latency_ms,omitempty"`
	MonitoringStatus MonitoringStatus `json:"monitoring_status,omitempty"`
	Version          string           `json:"version,omitempty"`
	Owner            string           `json:"owner,omitempty"`
	Framework        string           `json:"framework,omitempty"`
	DatasetID        string           `json:"dataset_id,omitempty"`
	Description      string           `json:"description,omitempty"`
	F1Score          *float64         `json:"f1_score,omitempty"`
	ApprovalStatus   ApprovalStatus   `json:"approval_status,omitempty"`
	Stage            ModelStage       `json:"model_stage,omitempty"`
}

// Template returns the base record new registrations are seeded from.
func Template() Model {
	return Model{
		Name:             "Untitled Model",
		Domain:           DomainFinance,
		Accuracy:         0,
		LatencyMs:        0,
		ApprovalStatus:   ApprovalPending,
		MonitoringStatus: MonitoringHealthy,
		Stage:            StageExperimental,
		Version:          "v0.1.0",
		Owner:            "unassigned",
		Framework:        "PyTorch",
	}
}

// merge overlays the non-empty draft fields onto m.
func (d Draft) merge(m Model) Model {
	if d.Name != "" {
		m.Name = d.Name
	}
	if d.Domain != "" {
		m.Domain = d.Domain
	}
	if d.Accuracy != nil {
		m.Accuracy = clamp01(*d.Accuracy)
	}
	if d.LatencyMs != nil && *d.LatencyMs >= 0 {
		m.LatencyMs = *d.LatencyMs
	}
	if d.MonitoringStatus != "" {
		m.MonitoringStatus = d.MonitoringStatus
	}
	if d.Version != "" {
		m.Version = d.Version
	}
	if d.Owner != "" {
		m.Owner = d.Owner
	}
	if d.Framework != "" {
		m.Framework = d.Framework
	}
	if d.DatasetID != "" {
		m.DatasetID = d.DatasetID
	}
	if d.Description != "" {
		m.Description = d.Description
	}
	if d.F1Score != nil {
		m.F1Score = clamp01(*d.F1Score)
	}
	return m
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
