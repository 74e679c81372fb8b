package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/spf13/cobra"
)

func submissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "Manage order submissions awaiting payment",
	}

	importCmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import or update submissions from a JSON array",
		Long: `Import submissions from a JSON array. Existing submissions with the same id
are updated in place.

Example record:
  {"id": "sub-1", "order_id": "order-42", "currency": "USD",
   "expected_amount": "49.99", "payment_reference": "INV-42",
   "buyer_name": "Ada Lovelace", "buyer_phone": "+15551234567"}`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmissionsImport,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE:  runSubmissionsList,
	}
	listCmd.Flags().String("status", "", "filter by status (PENDING, PAID, CANCELLED)")

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func runSubmissionsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read submissions: %w", err)
	}
	var subs []model.Submission
	if err := json.Unmarshal(data, &subs); err != nil {
		return fmt.Errorf("failed to parse submissions: %w", err)
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.ImportSubmissions(ctx, subs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d submissions\n", n)
	return nil
}

func runSubmissionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	status, _ := cmd.Flags().GetString("status")

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	subs, err := store.ListSubmissions(ctx, model.SubmissionStatus(strings.ToUpper(status)))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORDER\tAMOUNT\tREFERENCE\tBUYER\tSTATUS")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
			s.ID, s.OrderID, s.ExpectedAmount.StringFixed(2), s.Currency, s.PaymentReference, s.BuyerName, s.Status)
	}
	return w.Flush()
}
