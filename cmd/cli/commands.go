package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/perfeye/internal/models"
)

func newRuleCommand() *cobra.Command {
	ruleCmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage evaluation rules",
	}

	var enabledOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List evaluation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled *bool
			if enabledOnly {
				enabled = &enabledOnly
			}
			rules, err := apiClient.ListRules(enabled)
			if err != nil {
				return err
			}
			printRules(rules)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Show only enabled rules")

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Get evaluation rule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := apiClient.GetRule(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(rule, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule from JSON on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rule models.EvaluationRule
			if err := json.NewDecoder(os.Stdin).Decode(&rule); err != nil {
				return fmt.Errorf("invalid rule JSON: %v", err)
			}
			if err := apiClient.CreateRule(&rule); err != nil {
				return err
			}
			fmt.Printf("Rule created: %s\n", rule.RuleID)
			return nil
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable [id]",
		Short: "Enable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient.SetRuleEnabled(args[0], true)
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable [id]",
		Short: "Disable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient.SetRuleEnabled(args[0], false)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient.DeleteRule(args[0])
		},
	}

	ruleCmd.AddCommand(listCmd, getCmd, createCmd, enableCmd, disableCmd, deleteCmd)
	return ruleCmd
}

func newAlertsCommand() *cobra.Command {
	var status, rule, target string
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alert states",
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := apiClient.ListAlerts(status, rule, target)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ALERT\tSTATUS\tSEVERITY\tTARGET\tOPENED\tMESSAGE\t")
			for _, a := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
					a.AlertID, a.Status, a.Severity, a.TargetID,
					a.OpenedAt.Format(time.RFC3339), a.Message)
			}
			return w.Flush()
		},
	}
	alertsCmd.Flags().StringVar(&status, "status", "", "Filter by status (OPEN|RESOLVED)")
	alertsCmd.Flags().StringVar(&rule, "rule", "", "Filter by rule id")
	alertsCmd.Flags().StringVar(&target, "target", "", "Filter by target id")
	return alertsCmd
}

func newIngestCommand() *cobra.Command {
	var metric, target string
	var value float64
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a single metric sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			sample := &models.MetricSample{
				MetricName: metric,
				TargetID:   target,
				Value:      value,
				Timestamp:  time.Now().UTC(),
			}
			if err := apiClient.IngestSample(sample); err != nil {
				return err
			}
			fmt.Println("Sample accepted")
			return nil
		},
	}
	ingestCmd.Flags().StringVar(&metric, "metric", "", "Metric name")
	ingestCmd.Flags().StringVar(&target, "target", "", "Target identifier")
	ingestCmd.Flags().Float64Var(&value, "value", 0, "Sample value")
	ingestCmd.MarkFlagRequired("metric")
	ingestCmd.MarkFlagRequired("target")
	return ingestCmd
}

func newSamplesCommand() *cobra.Command {
	var metric, target string
	var since time.Duration
	samplesCmd := &cobra.Command{
		Use:   "samples",
		Short: "List raw samples for a series",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().Add(-since)
			samples, err := apiClient.ListSamples(metric, target, &start, nil)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "TIMESTAMP\tVALUE\t")
			for _, s := range samples {
				fmt.Fprintf(w, "%s\t%.4f\t\n", s.Timestamp.Format(time.RFC3339), s.Value)
			}
			return w.Flush()
		},
	}
	samplesCmd.Flags().StringVar(&metric, "metric", "", "Metric name")
	samplesCmd.Flags().StringVar(&target, "target", "", "Target identifier")
	samplesCmd.Flags().DurationVar(&since, "since", time.Hour, "Lookback window")
	samplesCmd.MarkFlagRequired("metric")
	samplesCmd.MarkFlagRequired("target")
	return samplesCmd
}

func printRules(rules []models.EvaluationRule) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "ID\tNAME\tMETRIC\tCONDITION\tWINDOW\tSEVERITY\tENABLED\t")
	for _, r := range rules {
		condition := string(r.Comparator)
		if r.Threshold != nil {
			condition = fmt.Sprintf("%s(%s) %s %.2f", r.Aggregation, r.MetricName, r.Comparator, *r.Threshold)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%v\t\n",
			r.RuleID, r.Name, r.MetricName, condition, r.Window(), r.Severity, r.Enabled)
	}
	w.Flush()
}
