package cli

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/vault"
)

// vaultPasswordKey resolves to --master-password or PORTPROBE_VAULT_PASSWORD.
const vaultPasswordKey = "vault_password"

func newVaultCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Store credentials in an encrypted local vault",
		Long: `Manage credentials in a file encrypted with a key derived from a master
password. The master password comes from --master-password or the
PORTPROBE_VAULT_PASSWORD environment variable. A wrong master password and
a corrupt file produce the same error.`,
		Example: `  export PORTPROBE_VAULT_PASSWORD='correct horse battery staple'
  portprobe vault add github --username alice --password s3cret
  portprobe vault get github
  portprobe vault search git
  portprobe vault delete github`,
	}

	cmd.PersistentFlags().String("master-password", "", "vault master password (or PORTPROBE_VAULT_PASSWORD)")
	cmd.PersistentFlags().String("vault", "", "vault file (default from config)")

	cmd.AddCommand(
		newVaultAddCmd(a),
		newVaultGetCmd(a),
		newVaultDeleteCmd(a),
		newVaultSearchCmd(a),
	)
	return cmd
}

// openVault returns the configured vault and the master password.
func (a *app) openVault(cmd *cobra.Command) (*vault.Vault, string, error) {
	cfg, err := a.loadConfig(cmd, map[string]string{
		"vault.path":     "vault",
		vaultPasswordKey: "master-password",
	})
	if err != nil {
		return nil, "", err
	}

	master := a.v.GetString(vaultPasswordKey)
	if master == "" {
		return nil, "", vault.ErrEmptyPassword
	}
	return vault.New(cfg.Vault.Path), master, nil
}

func newVaultAddCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add or replace an entry",
		Long: `Add or replace the entry called name. Without --password the password
is read from the first line of standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, master, err := a.openVault(cmd)
			if err != nil {
				return err
			}

			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				password = strings.TrimRight(line, "\r\n")
				if password == "" {
					if err != nil {
						return fmt.Errorf("no password given: %w", err)
					}
					return fmt.Errorf("no password given")
				}
			}

			if err := v.Add(master, args[0], username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+] Added/Updated: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username to store")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password to store (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newVaultGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get [name]",
		Short: "Show an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, master, err := a.openVault(cmd)
			if err != nil {
				return err
			}

			entry, err := v.Get(master, args[0])
			if stderrors.Is(err, vault.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Entry not found.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User: %s | Pass: %s\n", entry.Username, entry.Password)
			return nil
		},
	}
}

func newVaultDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, master, err := a.openVault(cmd)
			if err != nil {
				return err
			}

			if err := v.Delete(master, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[-] Deleted: %s\n", args[0])
			return nil
		},
	}
}

func newVaultSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "List entries whose name contains query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, master, err := a.openVault(cmd)
			if err != nil {
				return err
			}

			matches, err := v.Search(master, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matches found.")
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%s -> %s\n", m.Name, m.Username)
			}
			return nil
		},
	}
}
