package intent

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/registry"
)

func ptr(v float64) *float64 { return &v }

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		call *gateway.ToolCall
		want Intent
	}{
		{
			name: "no tool call",
			call: nil,
			want: None{},
		},
		{
			name: "search with all filters",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{
				"domain":        "finance",
				"minAccuracy":   0.9,
				"maxLatency":    float64(120),
				"sortBy":        "Accuracy",
				"sensitiveOnly": true,
			}},
			want: Search{
				Domain:        registry.DomainFinance,
				MinAccuracy:   ptr(0.9),
				MaxLatency:    ptr(120),
				SortBy:        SortAccuracy,
				SensitiveOnly: true,
			},
		},
		{
			name: "search without arguments",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry},
			want: Search{},
		},
		{
			name: "accuracy clamped high, latency clamped low",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{
				"minAccuracy": 1.7,
				"maxLatency":  -5,
			}},
			want: Search{MinAccuracy: ptr(1), MaxLatency: ptr(0)},
		},
		{
			name: "accuracy clamped low",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{"minAccuracy": -0.2}},
			want: Search{MinAccuracy: ptr(0)},
		},
		{
			name: "numeric strings and json numbers",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{
				"minAccuracy": " 0.85 ",
				"maxLatency":  json.Number("40"),
			}},
			want: Search{MinAccuracy: ptr(0.85), MaxLatency: ptr(40)},
		},
		{
			name: "NaN and garbage are absent",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{
				"minAccuracy": math.NaN(),
				"maxLatency":  "fast",
			}},
			want: Search{},
		},
		{
			name: "unknown sort key dropped with note",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{"sortBy": "popularity"}},
			want: Search{Notes: []string{`ignored unknown sort key "popularity"`}},
		},
		{
			name: "sensitiveOnly as string",
			call: &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{"sensitiveOnly": "true"}},
			want: Search{SensitiveOnly: true},
		},
		{
			name: "registration form with name",
			call: &gateway.ToolCall{Name: gateway.ToolRegistrationForm, Args: map[string]any{"initialName": " Churn Predictor "}},
			want: Register{InitialName: "Churn Predictor"},
		},
		{
			name: "registration form without name",
			call: &gateway.ToolCall{Name: gateway.ToolRegistrationForm},
			want: Register{},
		},
		{
			name: "approval queue",
			call: &gateway.ToolCall{Name: gateway.ToolApprovalQueue, Args: map[string]any{"ignored": 1}},
			want: ApprovalQueue{},
		},
		{
			name: "automl complete",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform":           "SageMaker",
				"datasetId":          "ds-03",
				"task":               "regression",
				"optimizationMetric": "rmse",
			}},
			want: RunAutoML{Platform: "sagemaker", DatasetID: "ds-03", Task: "regression", OptimizationMetric: "rmse"},
		},
		{
			name: "automl without optional metric",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform":  "vertex-ai",
				"datasetId": "ds-01",
				"task":      "classification",
			}},
			want: RunAutoML{Platform: "vertex-ai", DatasetID: "ds-01", Task: "classification"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.call)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_Downgrades(t *testing.T) {
	tests := []struct {
		name     string
		call     *gateway.ToolCall
		noteHint string
	}{
		{
			name:     "unknown domain",
			call:     &gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: map[string]any{"domain": "Aerospace"}},
			noteHint: "unknown domain",
		},
		{
			name:     "automl missing everything",
			call:     &gateway.ToolCall{Name: gateway.ToolRunAutoML},
			noteHint: "platform, datasetId, task",
		},
		{
			name: "automl missing dataset",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform": "databricks", "task": "forecasting",
			}},
			noteHint: "datasetId",
		},
		{
			name: "automl blank task",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform": "databricks", "datasetId": "ds-02", "task": "  ",
			}},
			noteHint: "task",
		},
		{
			name: "automl unknown platform",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform": "on-prem", "datasetId": "ds-02", "task": "regression",
			}},
			noteHint: "platform",
		},
		{
			name: "automl unknown task",
			call: &gateway.ToolCall{Name: gateway.ToolRunAutoML, Args: map[string]any{
				"platform": "azure-ml", "datasetId": "ds-02", "task": "clustering",
			}},
			noteHint: "task",
		},
		{
			name:     "unknown tool",
			call:     &gateway.ToolCall{Name: "launch_rocket"},
			noteHint: "launch_rocket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.call)
			none, ok := got.(None)
			if !ok {
				t.Fatalf("Resolve() = %#v, want None", got)
			}
			if !strings.Contains(none.Note, tt.noteHint) {
				t.Errorf("Note = %q, want it to contain %q", none.Note, tt.noteHint)
			}
		})
	}
}

func TestResolve_AutoMLEnumsMatchDeclaredTool(t *testing.T) {
	var decl gateway.ToolDecl
	for _, tl := range gateway.Tools() {
		if tl.Name == gateway.ToolRunAutoML {
			decl = tl
		}
	}
	enums := map[string][]string{}
	for _, p := range decl.Params {
		enums[p.Name] = p.Enum
	}
	if diff := cmp.Diff(Platforms, enums["platform"]); diff != "" {
		t.Errorf("platform enum drifted (-resolver +tool):\n%s", diff)
	}
	if diff := cmp.Diff(Tasks, enums["task"]); diff != "" {
		t.Errorf("task enum drifted (-resolver +tool):\n%s", diff)
	}
}

func TestResolve_DomainEnumMatchesDeclaredTool(t *testing.T) {
	var enum []string
	for _, tl := range gateway.Tools() {
		if tl.Name != gateway.ToolSearchRegistry {
			continue
		}
		for _, p := range tl.Params {
			if p.Name == "domain" {
				enum = p.Enum
			}
		}
	}
	want := make([]string, 0, len(registry.Domains))
	for _, d := range registry.Domains {
		want = append(want, string(d))
	}
	if diff := cmp.Diff(want, enum); diff != "" {
		t.Errorf("domain enum drifted (-registry +tool):\n%s", diff)
	}
}

func TestKinds(t *testing.T) {
	intents := []Intent{None{}, Search{}, Compare{}, Register{}, UpdateApproval{}, ApprovalQueue{}, RunAutoML{}, RequestApproval{}}
	seen := map[Kind]bool{}
	for _, in := range intents {
		seen[in.Kind()] = true
	}
	for _, k := range Kinds {
		if !seen[k] {
			t.Errorf("kind %s has no intent type", k)
		}
	}
	if len(seen) != len(Kinds) {
		t.Errorf("got %d distinct kinds, want %d", len(seen), len(Kinds))
	}
}

func TestNewUpdateApproval(t *testing.T) {
	got, err := NewUpdateApproval(" m-5 ", "approve")
	if err != nil {
		t.Fatalf("NewUpdateApproval: %v", err)
	}
	if diff := cmp.Diff(UpdateApproval{ModelID: "m-5", Decision: registry.ApprovalApproved}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewUpdateApproval("", "approved"); !errors.Is(err, ErrMissingModelID) {
		t.Errorf("empty model id err = %v, want ErrMissingModelID", err)
	}
	if _, err := NewUpdateApproval("m-5", "pending"); !errors.Is(err, registry.ErrInvalidDecision) {
		t.Errorf("pending decision err = %v, want ErrInvalidDecision", err)
	}
}

func TestNewCompare(t *testing.T) {
	got, err := NewCompare([]string{"m-2", " m-1 ", ""})
	if err != nil {
		t.Fatalf("NewCompare: %v", err)
	}
	if diff := cmp.Diff([]string{"m-2", "m-1"}, got.IDs); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	bad := [][]string{
		{"m-1"},
		{"m-1", "m-2", "m-3", "m-4", "m-5"},
		{"m-1", "m-1"},
		nil,
	}
	for _, ids := range bad {
		if _, err := NewCompare(ids); !errors.Is(err, ErrInvalidCompare) {
			t.Errorf("NewCompare(%v) err = %v, want ErrInvalidCompare", ids, err)
		}
	}
}

func TestNewRequestApproval(t *testing.T) {
	got, err := NewRequestApproval(" m-7 ", "  ")
	if err != nil {
		t.Fatalf("NewRequestApproval: %v", err)
	}
	if diff := cmp.Diff(RequestApproval{ModelID: "m-7", RequestedBy: DefaultRequester}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := NewRequestApproval(" ", "a.chen"); !errors.Is(err, ErrMissingModelID) {
		t.Errorf("err = %v, want ErrMissingModelID", err)
	}
}

func TestNewRegisterSubmission(t *testing.T) {
	got, err := NewRegisterSubmission(registry.Draft{Name: " Test Model ", Domain: "retail"})
	if err != nil {
		t.Fatalf("NewRegisterSubmission: %v", err)
	}
	if got.InitialName != "Test Model" || got.Draft == nil || got.Draft.Domain != registry.DomainRetail {
		t.Errorf("got %+v", got)
	}

	if _, err := NewRegisterSubmission(registry.Draft{Domain: "Space"}); !errors.Is(err, registry.ErrUnknownDomain) {
		t.Errorf("err = %v, want ErrUnknownDomain", err)
	}
}

func TestNewRegisterSubmission_MonitoringStatus(t *testing.T) {
	got, err := NewRegisterSubmission(registry.Draft{Name: "m", MonitoringStatus: "degraded", DatasetID: " ds-1 "})
	if err != nil {
		t.Fatalf("NewRegisterSubmission: %v", err)
	}
	if got.Draft.MonitoringStatus != registry.MonitoringDegraded {
		t.Errorf("monitoring_status = %q, want Degraded", got.Draft.MonitoringStatus)
	}
	if got.Draft.DatasetID != "ds-1" {
		t.Errorf("dataset_id = %q, want trimmed ds-1", got.Draft.DatasetID)
	}

	if _, err := NewRegisterSubmission(registry.Draft{Name: "m", MonitoringStatus: "Bogus"}); !errors.Is(err, registry.ErrUnknownMonitoringStatus) {
		t.Errorf("err = %v, want ErrUnknownMonitoringStatus", err)
	}
}
