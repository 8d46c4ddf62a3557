package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentmesh/didcomm-engine/keystore"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <did>",
	Short: "Generate and persist a key-agreement keypair for a DID",
	Long: `Generate a fresh X25519 key-agreement keypair for the given DID and
persist it in the configured kvstore.Store as that DID's KAK, overwriting
any existing one. Prepare seals messages sent from this DID with the KAK's
secret and names its key id as the envelope's sender kid.`,
	Example: `  didengine keygen did:example:alice`,
	Args:    cobra.ExactArgs(1),
	RunE:    runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	did := args[0]

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	kak, err := keystore.New(rt.kv).GenerateKeyAgreementKey(ctx, did)
	if err != nil {
		return fmt.Errorf("generate key agreement key: %w", err)
	}

	out, err := json.MarshalIndent(kak, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
