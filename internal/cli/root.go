// Package cli implements privyctl, the operator and bettor command line for
// the ledger API.
package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/privymarket/internal/crypto"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server     string
	KeyFile    string
	PrivateKey string
	Password   string
	Timeout    time.Duration
}

// NewRootCommand creates the root command for privyctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "privyctl",
		Short:         "privyctl - commit-reveal prediction market client",
		Long:          "Generate keys and commitments, and drive the privymarket ledger API with signed requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", cmp.Or(os.Getenv("PRIVY_SERVER"), "http://localhost:8000"), "ledger API base URL")
	cmd.PersistentFlags().StringVar(&opts.KeyFile, "key-file", os.Getenv("PRIVY_KEY_FILE"), "encrypted key file used to sign requests")
	cmd.PersistentFlags().StringVar(&opts.PrivateKey, "private-key", os.Getenv("PRIVY_PRIVATE_KEY"), "hex private key used to sign requests (overrides --key-file)")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", os.Getenv("PRIVY_KEY_PASSWORD"), "key file password")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "HTTP request timeout")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCreateMarketCommand(opts))
	cmd.AddCommand(NewBetCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewClaimCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))
	cmd.AddCommand(NewMarketCommand(opts))
	cmd.AddCommand(NewMarketsCommand(opts))
	cmd.AddCommand(NewPositionCommand(opts))
	cmd.AddCommand(NewAccountCommand(opts))

	return cmd
}

// signer loads the configured key, or returns nil when none is configured.
func (o *RootOptions) signer() (*crypto.Signer, error) {
	if o.PrivateKey == "" && o.KeyFile == "" {
		return nil, nil
	}
	return crypto.LoadSigner(crypto.KeySource{
		RawPrivateKey: o.PrivateKey,
		KeyFile:       o.KeyFile,
		Password:      o.Password,
	})
}

// client builds an API client, signing with the configured key if any.
func (o *RootOptions) client() (*Client, error) {
	s, err := o.signer()
	if err != nil {
		return nil, err
	}
	return NewClient(o.Server, s, o.Timeout)
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseSide accepts yes/no and true/false.
func parseSide(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true":
		return true, nil
	case "no", "n", "false":
		return false, nil
	default:
		return false, fmt.Errorf("side must be yes or no, got %q", s)
	}
}

// parseDeadline accepts RFC 3339 or a "+duration" offset from now.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid deadline offset %q: %w", s, err)
		}
		return now.Add(d).UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline must be RFC 3339 or +duration, got %q", s)
	}
	return t.UTC(), nil
}
