package cli

import (
	"errors"
	"net/url"

	"github.com/spf13/cobra"
)

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		amount uint64
		owner  string
	)

	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit an account from the development faucet",
		Long: `Credit an account from the faucet. The server must run with
ledger.faucet_enabled. Without --owner the signing key's account is funded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return errors.New("--amount must be positive")
			}
			body := map[string]any{"amount": amount}
			if owner != "" {
				body["owner"] = owner
			}
			return post(cmd, rootOpts, "/api/faucet", body)
		},
	}

	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit")
	cmd.Flags().StringVar(&owner, "owner", "", "account to credit (default: signer)")
	return cmd
}

// NewAccountCommand creates the account command.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "account [owner]",
		Short: "Show an account balance (default: signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ""
			if len(args) == 1 {
				owner = args[0]
			} else {
				s, err := rootOpts.signer()
				if err != nil {
					return err
				}
				if s == nil {
					return errors.New("pass an owner or configure a key")
				}
				owner = s.Address().Hex()
			}
			return get(cmd, rootOpts, "/api/accounts/"+url.PathEscape(owner), nil)
		},
	}
}
