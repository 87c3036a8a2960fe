package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/kalambet/modelbench/internal/present"
	"github.com/kalambet/modelbench/internal/registry"
)

// printDirective renders a directive the way the matching UI widget would,
// as plain terminal tables.
func printDirective(w io.Writer, d wireDirective) error {
	switch d.Type {
	case present.TypeModelList:
		var list present.ModelList
		if err := json.Unmarshal(d.Data, &list); err != nil {
			return fmt.Errorf("decoding %s: %w", d.Type, err)
		}
		printModelList(w, list)
	case present.TypeComparison:
		var c present.Comparison
		if err := json.Unmarshal(d.Data, &c); err != nil {
			return fmt.Errorf("decoding %s: %w", d.Type, err)
		}
		printModels(w, c.Models)
		if len(c.Missing) > 0 {
			fmt.Fprintln(w, colorize(styleWarning, "not found: "+strings.Join(c.Missing, ", ")))
		}
	case present.TypeApprovalQueue:
		var q present.ApprovalQueue
		if err := json.Unmarshal(d.Data, &q); err != nil {
			return fmt.Errorf("decoding %s: %w", d.Type, err)
		}
		printApprovalQueue(w, q)
	case present.TypeSubmissionForm:
		var f present.SubmissionForm
		if err := json.Unmarshal(d.Data, &f); err != nil {
			return fmt.Errorf("decoding %s: %w", d.Type, err)
		}
		printSubmissionForm(w, f)
	case present.TypeAutoMLStatus:
		var s present.AutoMLStatus
		if err := json.Unmarshal(d.Data, &s); err != nil {
			return fmt.Errorf("decoding %s: %w", d.Type, err)
		}
		j := s.Job
		dataset := j.DatasetID
		if j.DatasetName != "" {
			dataset = fmt.Sprintf("%s (%s)", j.DatasetName, j.DatasetID)
		}
		fmt.Fprintf(w, "AutoML run %s %s: %s %s on %s\n", j.ID, j.Status, j.Task, dataset, j.Platform)
	default:
		return fmt.Errorf("unknown directive type %q", d.Type)
	}
	return nil
}

func printModelList(w io.Writer, list present.ModelList) {
	if len(list.Models) == 0 {
		fmt.Fprintln(w, "No models match.")
	} else {
		printModels(w, list.Models)
		fmt.Fprintln(w, colorize(styleDim, fmt.Sprintf("showing %d of %d", len(list.Models), list.Total)))
	}
	for _, n := range list.Notes {
		fmt.Fprintln(w, colorize(styleWarning, "note: "+n))
	}
}

func printModels(w io.Writer, models []registry.Model) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tDOMAIN\tACCURACY\tLATENCY\tAPPROVAL\tSTAGE")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%.0fms\t%s\t%s\n",
			m.ID, truncate(m.Name, 32), m.Domain, m.Accuracy*100, m.LatencyMs, m.ApprovalStatus, m.Stage)
	}
	tw.Flush()
}

func printApprovalQueue(w io.Writer, q present.ApprovalQueue) {
	if o := q.Opened; o != nil {
		fmt.Fprintln(w, colorize(styleSuccess, fmt.Sprintf("Opened approval request %s for %s", o.ID, o.ModelID)))
	}
	if d := q.Decision; d != nil {
		if d.Applied {
			fmt.Fprintln(w, colorize(styleSuccess, fmt.Sprintf("%s is now %s", d.ModelID, d.Status)))
		} else {
			fmt.Fprintln(w, colorize(styleWarning, fmt.Sprintf("%s unchanged: %s", d.ModelID, d.Reason)))
		}
	}
	if len(q.Requests) == 0 {
		fmt.Fprintln(w, "No approval requests.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "REQUEST\tMODEL\tNAME\tREQUESTED BY\tSTATUS")
	for _, r := range q.Requests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(r.ID), r.ModelID, truncate(r.ModelName, 32), r.RequestedBy, r.Status)
	}
	tw.Flush()
	fmt.Fprintln(w, colorize(styleDim, fmt.Sprintf("%d pending", q.Pending)))
}

func printSubmissionForm(w io.Writer, f present.SubmissionForm) {
	if f.Submitted != nil {
		fmt.Fprintln(w, colorize(styleSuccess, fmt.Sprintf("Registered %s as %s (%s, %s)",
			f.Submitted.Name, f.Submitted.ID, f.Submitted.ApprovalStatus, f.Submitted.Stage)))
		if f.Request != nil {
			fmt.Fprintf(w, "Approval request %s opened.\n", f.Request.ID)
		}
		return
	}
	fmt.Fprintln(w, "Registration form:")
	fmt.Fprintf(w, "  name:      %s\n", f.Defaults.Name)
	fmt.Fprintf(w, "  domain:    %s\n", f.Defaults.Domain)
	fmt.Fprintf(w, "  framework: %s\n", f.Defaults.Framework)
	fmt.Fprintf(w, "  version:   %s\n", f.Defaults.Version)
	fmt.Fprintln(w, colorize(styleDim, "submit with: modelbench models register --name ..."))
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
