package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	prepareOptionsFile   string
	preparePlaintextFile string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare a plaintext message into wire bytes",
	Long: `Prepare reads an options document and a plaintext message, runs the
message through the protocol dispatcher (unless options disable that),
seals it into an envelope when the resulting step calls for encryption,
and prints the resulting {message, metadata} JSON.`,
	Example: `  didengine prepare --plaintext msg.json --options opts.json
  echo '{"type":"https://didcomm.org/trust-ping/1.0/ping"}' | didengine prepare`,
	RunE: runPrepare,
}

func init() {
	rootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().StringVar(&prepareOptionsFile, "options", "", "Path to an options JSON document (default: {})")
	prepareCmd.Flags().StringVar(&preparePlaintextFile, "plaintext", "", "Path to the plaintext message JSON (default: stdin)")
}

func runPrepare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	optionsJSON, err := readJSONArg(prepareOptionsFile, "{}")
	if err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	plaintextJSON, err := readJSONArg(preparePlaintextFile, "")
	if err != nil {
		return fmt.Errorf("read plaintext: %w", err)
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.engine.Prepare(ctx, optionsJSON, plaintextJSON)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	return printResult(result)
}

// readJSONArg reads JSON from path, or from stdin if path is empty and
// fallback is also empty; fallback is used as-is when path is empty and
// non-empty (e.g. "{}" for optional arguments).
func readJSONArg(path, fallback string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	if fallback != "" {
		return []byte(fallback), nil
	}
	return io.ReadAll(os.Stdin)
}
