package gateway

// ToolsetVersion identifies the declared tool set. Bump it whenever a tool
// is added, removed or has its parameters changed.
const ToolsetVersion = 1

const (
	ToolSearchRegistry   = "search_registry"
	ToolRegistrationForm = "trigger_registration_form"
	ToolApprovalQueue    = "fetch_approval_queue"
	ToolRunAutoML        = "trigger_automl_orchestration"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
	Required    bool
}

// ToolDecl is a callable tool offered to the hosted model.
type ToolDecl struct {
	Name        string
	Description string
	Params      []Param
}

// RequiredParams returns the names of the required parameters in declaration order.
func (t ToolDecl) RequiredParams() []string {
	var names []string
	for _, p := range t.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// JSONSchema renders the parameters as a JSON Schema object.
func (t ToolDecl) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := t.RequiredParams(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

var (
	domainEnum   = []string{"Finance", "Healthcare", "Retail", "Manufacturing", "Energy", "Telecommunications"}
	platformEnum = []string{"vertex-ai", "sagemaker", "azure-ml", "databricks"}
	taskEnum     = []string{"classification", "regression", "forecasting"}
)

// Tools returns the fixed tool set for ToolsetVersion.
func Tools() []ToolDecl {
	return []ToolDecl{
		{
			Name:        ToolSearchRegistry,
			Description: "Search the model registry. Every argument is optional and narrows the results.",
			Params: []Param{
				{Name: "domain", Type: TypeString, Description: "Business domain of the model", Enum: domainEnum},
				{Name: "minAccuracy", Type: TypeNumber, Description: "Minimum accuracy between 0 and 1"},
				{Name: "maxLatency", Type: TypeNumber, Description: "Maximum inference latency in milliseconds"},
				{Name: "sortBy", Type: TypeString, Description: "Sort key, highest first", Enum: []string{"accuracy", "latency", "created"}},
				{Name: "sensitiveOnly", Type: TypeBoolean, Description: "Only models trained on datasets flagged as sensitive"},
			},
		},
		{
			Name:        ToolRegistrationForm,
			Description: "Open the model registration form so the user can submit a new model.",
			Params: []Param{
				{Name: "initialName", Type: TypeString, Description: "Suggested name to prefill"},
			},
		},
		{
			Name:        ToolApprovalQueue,
			Description: "Show the queue of model approval requests.",
		},
		{
			Name:        ToolRunAutoML,
			Description: "Start an AutoML run on a managed platform.",
			Params: []Param{
				{Name: "platform", Type: TypeString, Description: "Managed ML platform", Enum: platformEnum, Required: true},
				{Name: "datasetId", Type: TypeString, Description: "Identifier of the training dataset", Required: true},
				{Name: "task", Type: TypeString, Description: "Learning task", Enum: taskEnum, Required: true},
				{Name: "optimizationMetric", Type: TypeString, Description: "Metric to optimise, for example auc or rmse"},
			},
		},
	}
}
