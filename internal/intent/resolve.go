package intent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/registry"
)

// Resolve maps the hosted model's tool call to an Intent. It never fails:
// a missing call, an unknown tool or a payload that does not validate all
// resolve to None.
func Resolve(call *gateway.ToolCall) Intent {
	if call == nil {
		return None{}
	}

	switch call.Name {
	case gateway.ToolSearchRegistry:
		return resolveSearch(call.Args)
	case gateway.ToolRegistrationForm:
		name, _ := stringArg(call.Args, "initialName")
		return Register{InitialName: name}
	case gateway.ToolApprovalQueue:
		return ApprovalQueue{}
	case gateway.ToolRunAutoML:
		return resolveAutoML(call.Args)
	default:
		slog.Debug("ignoring unknown tool call", "tool", call.Name)
		return None{Note: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

func resolveSearch(args map[string]any) Intent {
	var s Search

	if raw, ok := stringArg(args, "domain"); ok {
		d, err := registry.ParseDomain(raw)
		if err != nil {
			slog.Debug("search downgraded", "error", err)
			return None{Note: err.Error()}
		}
		s.Domain = d
	}

	if v, ok := numberArg(args, "minAccuracy"); ok {
		v = math.Min(math.Max(v, 0), 1)
		s.MinAccuracy = &v
	}
	if v, ok := numberArg(args, "maxLatency"); ok {
		v = math.Max(v, 0)
		s.MaxLatency = &v
	}

	if raw, ok := stringArg(args, "sortBy"); ok {
		key := SortKey(strings.ToLower(raw))
		switch key {
		case SortAccuracy, SortLatency, SortCreated:
			s.SortBy = key
		default:
			s.Notes = append(s.Notes, fmt.Sprintf("ignored unknown sort key %q", raw))
		}
	}

	s.SensitiveOnly, _ = boolArg(args, "sensitiveOnly")
	return s
}

func resolveAutoML(args map[string]any) Intent {
	var missing []string
	platform, ok := stringArg(args, "platform")
	if !ok {
		missing = append(missing, "platform")
	}
	dataset, ok := stringArg(args, "datasetId")
	if !ok {
		missing = append(missing, "datasetId")
	}
	task, ok := stringArg(args, "task")
	if !ok {
		missing = append(missing, "task")
	}
	if len(missing) > 0 {
		return None{Note: "automl run is missing " + strings.Join(missing, ", ")}
	}

	platform = strings.ToLower(platform)
	if !slices.Contains(Platforms, platform) {
		return None{Note: fmt.Sprintf("unsupported automl platform %q", platform)}
	}
	task = strings.ToLower(task)
	if !slices.Contains(Tasks, task) {
		return None{Note: fmt.Sprintf("unsupported automl task %q", task)}
	}

	metric, _ := stringArg(args, "optimizationMetric")
	return RunAutoML{
		Platform:           platform,
		DatasetID:          dataset,
		Task:               task,
		OptimizationMetric: metric,
	}
}

// stringArg returns a non-blank string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// numberArg accepts JSON numbers, integers and numeric strings. NaN counts
// as absent.
func numberArg(args map[string]any, key string) (float64, bool) {
	var v float64
	switch n := args[key].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case int32:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func boolArg(args map[string]any, key string) (bool, bool) {
	switch b := args[key].(type) {
	case bool:
		return b, true
	case string:
		v, err := strconv.ParseBool(strings.TrimSpace(b))
		return v, err == nil
	}
	return false, false
}
