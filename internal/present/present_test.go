package present

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/reconcile"
	"github.com/kalambet/modelbench/internal/registry"
)

func TestTypes_Exhaustive(t *testing.T) {
	reached := map[DirectiveType]bool{}
	for _, k := range intent.Kinds {
		typ, ok := Types[k]
		if k == intent.KindNone {
			if ok {
				t.Errorf("NONE maps to %s, want no directive", typ)
			}
			continue
		}
		if !ok {
			t.Errorf("intent %s has no directive type", k)
		}
		reached[typ] = true
	}
	for _, typ := range DirectiveTypes {
		if !reached[typ] {
			t.Errorf("directive type %s is unreachable", typ)
		}
	}
	if len(Types) != len(intent.Kinds)-1 {
		t.Errorf("Types has %d entries, want %d", len(Types), len(intent.Kinds)-1)
	}
}

func TestPresent_Mapping(t *testing.T) {
	model := registry.Model{ID: "m-1", Name: "Fraud Detector"}
	queue := []registry.ApprovalRequest{
		{ID: "req-1", ModelID: "m-1", Status: registry.ApprovalApproved},
		{ID: "req-2", ModelID: "m-2", Status: registry.ApprovalPending},
	}

	tests := []struct {
		name string
		in   intent.Intent
		res  reconcile.Result
		want *Directive
	}{
		{
			name: "search",
			in:   intent.Search{Domain: registry.DomainFinance, SortBy: intent.SortAccuracy},
			res: reconcile.SearchResult{
				Filter: intent.Search{Domain: registry.DomainFinance, SortBy: intent.SortAccuracy},
				Models: []registry.Model{model},
				Total:  7,
			},
			want: &Directive{Type: TypeModelList, Data: ModelList{
				Models: []registry.Model{model},
				Total:  7,
				Filter: SearchFilter{Domain: "Finance", SortBy: "accuracy"},
			}},
		},
		{
			name: "empty search renders an empty list",
			in:   intent.Search{},
			res:  reconcile.SearchResult{},
			want: &Directive{Type: TypeModelList, Data: ModelList{Models: []registry.Model{}}},
		},
		{
			name: "compare",
			in:   intent.Compare{IDs: []string{"m-1", "m-9"}},
			res:  reconcile.CompareResult{Models: []registry.Model{model}, Missing: []string{"m-9"}},
			want: &Directive{Type: TypeComparison, Data: Comparison{Models: []registry.Model{model}, Missing: []string{"m-9"}}},
		},
		{
			name: "approval queue",
			in:   intent.ApprovalQueue{},
			res:  reconcile.QueueResult{Requests: queue},
			want: &Directive{Type: TypeApprovalQueue, Data: ApprovalQueue{Requests: queue, Pending: 1}},
		},
		{
			name: "update approval",
			in:   intent.UpdateApproval{ModelID: "m-1", Decision: registry.ApprovalApproved},
			res: reconcile.ApprovalResult{
				Decision: registry.Decision{Applied: true},
				Queue:    queue,
			},
			want: &Directive{Type: TypeApprovalQueue, Data: ApprovalQueue{
				Requests: queue,
				Pending:  1,
				Decision: &DecisionOutcome{ModelID: "m-1", Status: registry.ApprovalApproved, Applied: true},
			}},
		},
		{
			name: "request approval",
			in:   intent.RequestApproval{ModelID: "m-2", RequestedBy: "a.chen"},
			res:  reconcile.RequestResult{Request: queue[1], Queue: queue},
			want: &Directive{Type: TypeApprovalQueue, Data: ApprovalQueue{
				Requests: queue,
				Pending:  1,
				Opened:   &queue[1],
			}},
		},
		{
			name: "register form",
			in:   intent.Register{InitialName: "Churn"},
			res:  reconcile.FormResult{InitialName: "Churn", Defaults: registry.Template()},
			want: &Directive{Type: TypeSubmissionForm, Data: SubmissionForm{InitialName: "Churn", Defaults: registry.Template()}},
		},
		{
			name: "automl",
			in:   intent.RunAutoML{Platform: "sagemaker", DatasetID: "ds-1", Task: "regression"},
			res:  reconcile.AutoMLJob{ID: "job-1", Platform: "sagemaker", Status: reconcile.JobQueued},
			want: &Directive{Type: TypeAutoMLStatus, Data: AutoMLStatus{Job: reconcile.AutoMLJob{ID: "job-1", Platform: "sagemaker", Status: reconcile.JobQueued}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Present(tt.in, tt.res)
			if err != nil {
				t.Fatalf("Present: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Present() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPresent_NoneIsNil(t *testing.T) {
	got, err := Present(intent.None{Note: "unknown tool"}, reconcile.NoResult{})
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if got != nil {
		t.Errorf("Present(NONE) = %+v, want nil", got)
	}
}

func TestPresent_ContractViolation(t *testing.T) {
	tests := []struct {
		name string
		in   intent.Intent
		res  reconcile.Result
	}{
		{"search with queue result", intent.Search{}, reconcile.QueueResult{}},
		{"register with no result", intent.Register{}, reconcile.NoResult{}},
		{"compare with nil result", intent.Compare{}, nil},
		{"automl with form", intent.RunAutoML{}, reconcile.FormResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Present(tt.in, tt.res)
			if !errors.Is(err, ErrContractViolation) {
				t.Errorf("err = %v, want ErrContractViolation", err)
			}
			if got != nil {
				t.Errorf("directive = %+v, want nil on violation", got)
			}
		})
	}
}

func TestPresent_DoesNotMutate(t *testing.T) {
	models := []registry.Model{{ID: "m-1"}, {ID: "m-2"}}
	res := reconcile.SearchResult{Models: models, Total: 2}
	Present(intent.Search{}, res)
	if models[0].ID != "m-1" || models[1].ID != "m-2" {
		t.Errorf("models changed: %+v", models)
	}
}

func TestDirective_JSON(t *testing.T) {
	d, err := Present(intent.Search{}, reconcile.SearchResult{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(b); !strings.Contains(s, `"type":"model-list"`) || !strings.Contains(s, `"models":[]`) {
		t.Errorf("json = %s", s)
	}
}
