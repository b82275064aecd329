package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/privymarket/internal/commitment"
	"github.com/alanyoungcy/privymarket/internal/crypto"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key and write it as an encrypted key file",
		Long: `Generate a fresh secp256k1 key and write it to --out, encrypted with
--password. An existing file is never overwritten.

Example:
  privyctl keygen --out alice.key --password "$PRIVY_KEY_PASSWORD"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if rootOpts.Password == "" {
				return errors.New("--password (or PRIVY_KEY_PASSWORD) is required")
			}
			s, err := crypto.GenerateSigner()
			if err != nil {
				return err
			}
			if err := crypto.WriteKeyFile(out, s, rootOpts.Password); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":  s.Address().Hex(),
				"key_file": out,
			})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "path of the key file to create")
	return cmd
}

// NewAddressCommand creates the address command.
func NewAddressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the identity of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.signer()
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("no key configured (--key-file or --private-key)")
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"address": s.Address().Hex()})
		},
	}
}

type commitOutput struct {
	Secret     string `json:"secret"`
	Side       bool   `json:"side"`
	Commitment string `json:"commitment"`
}

// newCommitment draws a secret unless one is given and binds it to side.
func newCommitment(secretHex string, side bool) (commitOutput, error) {
	var (
		secret commitment.Secret
		err    error
	)
	if secretHex != "" {
		secret, err = commitment.ParseSecret(secretHex)
	} else {
		secret, err = commitment.NewSecret()
	}
	if err != nil {
		return commitOutput{}, err
	}
	return commitOutput{
		Secret:     secret.Hex(),
		Side:       side,
		Commitment: commitment.Commit(secret, side).Hex(),
	}, nil
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(_ *RootOptions) *cobra.Command {
	var side, secret string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute a bet commitment offline",
		Long: `Compute SHA-256(secret || side) for a bet. Without --secret a fresh
32-byte secret is drawn. Keep the printed secret: it is needed to claim.

Example:
  privyctl commit --side yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			c, err := newCommitment(secret, s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}

	cmd.Flags().StringVar(&side, "side", "", "yes or no")
	cmd.Flags().StringVar(&secret, "secret", "", "0x-prefixed 32-byte secret (default: random)")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}
