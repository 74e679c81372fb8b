package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Veraticus/payproof/internal/engine"
	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <image>",
		Short: "Process one payment screenshot",
		Long: `Run a single payment screenshot through extraction and matching, and print
the resulting decision as JSON.

Examples:
  payproof process proof.png
  payproof process proof.jpg --order order-42 --currency USD`,
		Args: cobra.ExactArgs(1),
		RunE: runProcess,
	}

	addProofContextFlags(cmd)
	return cmd
}

func addProofContextFlags(cmd *cobra.Command) {
	cmd.Flags().String("submission", "", "submission ID the proof is claimed for")
	cmd.Flags().String("order", "", "order ID used to narrow the candidate search")
	cmd.Flags().String("currency", "", "currency hint for amounts without a symbol")
}

func proofContextFromFlags(cmd *cobra.Command) engine.ProofContext {
	submission, _ := cmd.Flags().GetString("submission")
	order, _ := cmd.Flags().GetString("order")
	currency, _ := cmd.Flags().GetString("currency")
	return engine.ProofContext{SubmissionID: submission, OrderID: order, Currency: currency}
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, mimeType, err := readImage(args[0])
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := shutdownContext(ctx)
		defer cancel()
		_ = rt.Close(shutdownCtx)
	}()

	decision, err := rt.Engine.ProcessPaymentProof(ctx, raw, mimeType, proofContextFromFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to process %s: %w", args[0], err)
	}
	return writeJSON(cmd.OutOrStdout(), decision)
}

// readImage loads an image file and determines its MIME type from the
// extension, falling back to content sniffing.
func readImage(path string) ([]byte, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	return raw, mimeType, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
