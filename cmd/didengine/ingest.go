package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ingestOptionsFile string
	ingestWireFile    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest wire bytes into a plaintext message",
	Long: `Ingest reads an options document and wire bytes (an envelope or a
plaintext message, whichever the wire looks like), opens it when it is an
envelope, runs the result through the protocol dispatcher (unless options
disable that), and prints the resulting {message, metadata} JSON.`,
	Example: `  didengine ingest --wire envelope.json --options opts.json
  cat envelope.json | didengine ingest`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestOptionsFile, "options", "", "Path to an options JSON document (default: {})")
	ingestCmd.Flags().StringVar(&ingestWireFile, "wire", "", "Path to the wire JSON (default: stdin)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	optionsJSON, err := readJSONArg(ingestOptionsFile, "{}")
	if err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	wireJSON, err := readJSONArg(ingestWireFile, "")
	if err != nil {
		return fmt.Errorf("read wire: %w", err)
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.engine.Ingest(ctx, optionsJSON, wireJSON)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return printResult(result)
}
