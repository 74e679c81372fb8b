package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/spf13/cobra"
)

func decisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect recorded decisions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions, newest first",
		RunE:  runDecisionsList,
	}
	listCmd.Flags().String("outcome", "", "filter by outcome (AUTO_APPROVED, PENDING_REVIEW, UNMATCHED)")
	listCmd.Flags().Int("limit", 50, "maximum number of decisions")

	showCmd := &cobra.Command{
		Use:   "show <content-hash>",
		Short: "Print one decision as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecisionsShow,
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func runDecisionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	outcome, _ := cmd.Flags().GetString("outcome")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	decisions, err := store.ListDecisions(ctx, model.Outcome(strings.ToUpper(outcome)), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tHASH\tOUTCOME\tSUBMISSION\tSCORE\tREASON")
	for _, d := range decisions {
		submission, score := "-", "-"
		if d.Chosen != nil {
			submission = d.Chosen.Submission.ID
			score = fmt.Sprintf("%.2f", d.Chosen.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.Format("2006-01-02 15:04:05"), shortHash(d.ContentHash), d.Outcome, submission, score, d.Reason)
	}
	return w.Flush()
}

func runDecisionsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	decision, err := store.GetDecisionByHash(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), decision)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
