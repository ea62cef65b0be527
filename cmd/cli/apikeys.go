// This file implements API key commands. Keys are not stored anywhere by
// portprobe itself: the printed hash goes into api.api_keys in the config file.
package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/auth"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikeys",
		Aliases: []string{"apikey", "keys"},
		Short:   "Generate API keys for the API server",
		Long: `Generate API keys for clients of 'portprobe serve'.

The key is shown once. Add its bcrypt hash to api.api_keys in the config
file; the server accepts both hashes and plaintext keys there. Clients send
the key in the X-API-Key header, and the schedules commands read it from
PORTPROBE_API_KEY.`,
		Example: `  portprobe apikeys generate --name "CI pipeline"
  portprobe apikeys generate --name dashboard --output json
  portprobe apikeys hash pp_abcdefghijklmnopqrstuvwxyz234567`,
	}

	cmd.AddCommand(newAPIKeyGenerateCmd(), newAPIKeyHashCmd())
	return cmd
}

func newAPIKeyGenerateCmd() *cobra.Command {
	var name, output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			key, err := auth.GenerateKey(name)
			if err != nil {
				return err
			}

			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), key)
			}
			displayGeneratedKey(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "descriptive name for the key")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAPIKeyHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [key]",
		Short: "Print the bcrypt hash of an existing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.IsValidKeyFormat(args[0]) {
				return fmt.Errorf("invalid API key format")
			}
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func displayGeneratedKey(w io.Writer, key *auth.GeneratedKey) {
	table := tablewriter.NewWriter(w)
	table.Header("NAME", "PREFIX", "CREATED")
	_ = table.Append([]string{key.Name, key.DisplayPrefix, key.CreatedAt.Format("2006-01-02 15:04:05")})
	_ = table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "API key: %s\n", key.Key)
	fmt.Fprintf(w, "Hash:    %s\n", key.Hash)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Store the key now; it cannot be recovered. Add the hash to api.api_keys.")
}
