package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Work the human review queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open review tickets, oldest first",
		RunE:  runReviewList,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <ticket-id>",
		Short: "Close a review ticket",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewResolve,
	}

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

func runReviewList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tickets, err := store.ListOpenTickets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tCREATED\tOUTCOME\tCANDIDATES\tREASON")
	for _, t := range tickets {
		ids := make([]string, 0, len(t.Candidates))
		for _, c := range t.Candidates {
			ids = append(ids, fmt.Sprintf("%s(%.2f)", c.Submission.ID, c.Score))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.CreatedAt.Format("2006-01-02 15:04:05"), t.Outcome, strings.Join(ids, ","), t.Reason)
	}
	return w.Flush()
}

func runReviewResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.ResolveTicket(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved ticket %s\n", args[0])
	return nil
}
