package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/modelbench/internal/api"
	"github.com/kalambet/modelbench/internal/config"
	"github.com/kalambet/modelbench/internal/present"
	"github.com/kalambet/modelbench/internal/registry"
	"github.com/kalambet/modelbench/internal/session"
	"github.com/kalambet/modelbench/internal/storage"
)

// wireDirective is a directive as it arrives over HTTP; Data is decoded
// once Type is known.
type wireDirective struct {
	Type present.DirectiveType `json:"type"`
	Data json.RawMessage       `json:"data"`
}

type wireMessage struct {
	ID       string         `json:"id"`
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata *wireDirective `json:"metadata"`
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the registry assistant",
	Long: `Open a conversation with the registry assistant.

Examples:
  modelbench chat
  modelbench chat --persona supervisor
  modelbench chat -m "show me healthcare models above 90% accuracy"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		persona, _ := cmd.Flags().GetString("persona")
		message, _ := cmd.Flags().GetString("message")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.post(ctx, "/v1/sessions", map[string]string{"persona": persona})
		if err != nil {
			return err
		}
		var info session.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}

		if message != "" {
			return sendMessage(ctx, client, info.ID, message, os.Stdout)
		}

		printStep("Session %s (%s). Type exit to quit.", info.ID, info.Persona)
		return chatLoop(ctx, client, info.ID, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().String("persona", "data-scientist", "persona: data-scientist or supervisor")
	chatCmd.Flags().StringP("message", "m", "", "send a single message and exit")
}

func chatLoop(ctx context.Context, client *apiClient, sessionID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(styleBold, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := sendMessage(ctx, client, sessionID, line, out); err != nil {
			printError("%v", err)
		}
	}
}

func sendMessage(ctx context.Context, client *apiClient, sessionID, text string, out io.Writer) error {
	resp, err := client.post(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/messages", map[string]string{"text": text})
	if err != nil {
		return err
	}
	var msg wireMessage
	if err := decodeJSON(resp, &msg); err != nil {
		return err
	}

	fmt.Fprintln(out, renderMarkdown(msg.Content))
	if msg.Metadata != nil {
		fmt.Fprintln(out)
		return printDirective(out, *msg.Metadata)
	}
	return nil
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Search and register models",
}

var modelsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the model registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if v, _ := cmd.Flags().GetString("domain"); v != "" {
			q.Set("domain", v)
		}
		if cmd.Flags().Changed("min-accuracy") {
			v, _ := cmd.Flags().GetFloat64("min-accuracy")
			q.Set("minAccuracy", strconv.FormatFloat(v, 'f', -1, 64))
		}
		if cmd.Flags().Changed("max-latency") {
			v, _ := cmd.Flags().GetFloat64("max-latency")
			q.Set("maxLatency", strconv.FormatFloat(v, 'f', -1, 64))
		}
		if v, _ := cmd.Flags().GetString("sort"); v != "" {
			q.Set("sortBy", v)
		}
		if v, _ := cmd.Flags().GetBool("sensitive"); v {
			q.Set("sensitiveOnly", "true")
		}

		path := "/v1/models"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return getDirective(cmd.Context(), path)
	},
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/models/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var m registry.Model
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		return printJSON(os.Stdout, m)
	},
}

var modelsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new model (starts Pending and Experimental)",
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := draftFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/models", draft)
		if err != nil {
			return err
		}
		var d wireDirective
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printDirective(os.Stdout, d)
	},
}

func draftFromFlags(cmd *cobra.Command) (registry.Draft, error) {
	f := cmd.Flags()
	var d registry.Draft
	d.Name, _ = f.GetString("name")
	if strings.TrimSpace(d.Name) == "" {
		return d, fmt.Errorf("--name is required")
	}
	domain, _ := f.GetString("domain")
	d.Domain = registry.Domain(domain)
	d.Owner, _ = f.GetString("owner")
	d.Framework, _ = f.GetString("framework")
	d.Version, _ = f.GetString("version")
	d.DatasetID, _ = f.GetString("dataset")
	d.Description, _ = f.GetString("description")
	if f.Changed("accuracy") {
		v, _ := f.GetFloat64("accuracy")
		d.Accuracy = &v
	}
	if f.Changed("latency") {
		v, _ := f.GetFloat64("latency")
		d.LatencyMs = &v
	}
	return d, nil
}

func init() {
	modelsSearchCmd.Flags().String("domain", "", "business domain")
	modelsSearchCmd.Flags().Float64("min-accuracy", 0, "minimum accuracy (0-1)")
	modelsSearchCmd.Flags().Float64("max-latency", 0, "maximum latency in ms")
	modelsSearchCmd.Flags().String("sort", "", "sort key: accuracy, latency or created")
	modelsSearchCmd.Flags().Bool("sensitive", false, "only models trained on sensitive data")

	modelsRegisterCmd.Flags().String("name", "", "model name")
	modelsRegisterCmd.Flags().String("domain", "", "business domain")
	modelsRegisterCmd.Flags().Float64("accuracy", 0, "accuracy (0-1)")
	modelsRegisterCmd.Flags().Float64("latency", 0, "latency in ms")
	modelsRegisterCmd.Flags().String("owner", "", "owning team or person")
	modelsRegisterCmd.Flags().String("framework", "", "training framework")
	modelsRegisterCmd.Flags().String("version", "", "model version")
	modelsRegisterCmd.Flags().String("dataset", "", "training dataset id")
	modelsRegisterCmd.Flags().String("description", "", "description")

	modelsCmd.AddCommand(modelsSearchCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsRegisterCmd)
}

// --- compare ---

var compareCmd = &cobra.Command{
	Use:   "compare <id> <id> [id] [id]",
	Short: "Compare 2 to 4 models",
	Args:  cobra.RangeArgs(2, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getDirective(cmd.Context(), "/v1/compare?ids="+url.QueryEscape(strings.Join(args, ",")))
	},
}

// --- approvals ---

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review the approval queue",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getDirective(cmd.Context(), "/v1/approvals")
	},
}

func decisionCmd(use, decision string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <model-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a model's pending approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/v1/approvals/" + url.PathEscape(args[0]) + "/decision"
			resp, err := client.post(cmd.Context(), path, map[string]string{"decision": decision})
			if err != nil {
				return err
			}
			var d wireDirective
			if err := decodeJSON(resp, &d); err != nil {
				return err
			}
			return printDirective(os.Stdout, d)
		},
	}
}

var approvalsRequestCmd = &cobra.Command{
	Use:   "request <model-id>",
	Short: "Open an approval request for an undecided model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/approvals", map[string]string{
			"model_id":     args[0],
			"requested_by": by,
		})
		if err != nil {
			return err
		}
		var d wireDirective
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printDirective(os.Stdout, d)
	},
}

func init() {
	approvalsRequestCmd.Flags().String("by", "", "requester")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(decisionCmd("approve", string(registry.ApprovalApproved)))
	approvalsCmd.AddCommand(decisionCmd("reject", string(registry.ApprovalRejected)))
	approvalsCmd.AddCommand(approvalsRequestCmd)
}

// --- automl ---

var automlCmd = &cobra.Command{
	Use:   "automl",
	Short: "Queue and list AutoML runs",
}

var automlRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Queue an AutoML run",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		platform, _ := f.GetString("platform")
		dataset, _ := f.GetString("dataset")
		task, _ := f.GetString("task")
		metric, _ := f.GetString("metric")
		if platform == "" || dataset == "" || task == "" {
			return fmt.Errorf("--platform, --dataset and --task are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/automl/jobs", map[string]string{
			"platform":            platform,
			"dataset_id":          dataset,
			"task":                task,
			"optimization_metric": metric,
		})
		if err != nil {
			return err
		}
		var d wireDirective
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printDirective(os.Stdout, d)
	},
}

var automlJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List queued AutoML runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/automl/jobs?limit=%d", limit))
		if err != nil {
			return err
		}
		var jobs []storage.Job
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No AutoML runs queued.")
			return nil
		}
		tw := newTable(os.Stdout)
		fmt.Fprintln(tw, "ID\tPLATFORM\tDATASET\tTASK\tSTATUS\tQUEUED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.Platform, j.DatasetID, j.Task, j.Status, j.QueuedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	automlRunCmd.Flags().String("platform", "", "vertex-ai, sagemaker, azure-ml or databricks")
	automlRunCmd.Flags().String("dataset", "", "dataset id")
	automlRunCmd.Flags().String("task", "", "classification, regression or forecasting")
	automlRunCmd.Flags().String("metric", "", "optimization metric")
	automlJobsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	automlCmd.AddCommand(automlRunCmd)
	automlCmd.AddCommand(automlJobsCmd)
}

// --- turns ---

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Inspect the turn journal",
}

var turnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/turns?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var turns []storage.Turn
		if err := decodeJSON(resp, &turns); err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No turns recorded.")
			return nil
		}
		printTurns(os.Stdout, turns)
		return nil
	},
}

func printTurns(w io.Writer, turns []storage.Turn) {
	for _, t := range turns {
		label := t.Intent
		if t.Degraded {
			label = colorize(styleWarning, "DEGRADED")
		}
		fmt.Fprintf(w, "%s  %s  %-15s %s\n",
			colorize(styleStep, shortID(t.ID)),
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			label,
			truncate(t.UserText, 80),
		)
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i >= 0 && len(id) > i+9 {
		return id[:i+9]
	}
	return id
}

var turnsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single turn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/turns/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var t storage.Turn
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		return printJSON(os.Stdout, t)
	},
}

var turnsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count turns by intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/turns/stats")
		if err != nil {
			return err
		}
		var stats api.TurnStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStatus("Total", "%d", stats.Total)
		for _, k := range sortedKeys(stats.ByIntent) {
			printStatus(k, "%d", stats.ByIntent[k])
		}
		return nil
	},
}

func init() {
	turnsListCmd.Flags().Int("limit", 20, "maximum number of turns to list")
	turnsListCmd.Flags().Int("offset", 0, "number of turns to skip")
	turnsCmd.AddCommand(turnsListCmd)
	turnsCmd.AddCommand(turnsShowCmd)
	turnsCmd.AddCommand(turnsStatsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(styleBold, k.Key), k.Value, colorize(styleDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasSuffix(key, "api_key") || key == "server.token" {
			printSuccess("Set %s", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- helpers ---

func getDirective(ctx context.Context, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var d wireDirective
	if err := decodeJSON(resp, &d); err != nil {
		return err
	}
	return printDirective(os.Stdout, d)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
