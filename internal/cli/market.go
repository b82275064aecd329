package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// marketPath returns /api/markets/{id}[suffix] after validating id.
func marketPath(arg, suffix string) (string, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return "", fmt.Errorf("market id must be an unsigned integer, got %q", arg)
	}
	return fmt.Sprintf("/api/markets/%d%s", id, suffix), nil
}

// post signs body to path and prints the response.
func post(cmd *cobra.Command, rootOpts *RootOptions, path string, body any) error {
	c, err := rootOpts.client()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.Post(cmd.Context(), path, body, &out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

// get fetches path and prints the response.
func get(cmd *cobra.Command, rootOpts *RootOptions, path string, query url.Values) error {
	c, err := rootOpts.client()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.Get(cmd.Context(), path, query, &out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the registry with the signing key as admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return post(cmd, rootOpts, "/api/registry", struct{}{})
		},
	}
}

// NewCreateMarketCommand creates the create-market command.
func NewCreateMarketCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		id          uint64
		question    string
		deadline    string
		claimWindow time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create-market",
		Short: "Create a market (admin only)",
		Long: `Create a market. --deadline is RFC 3339 or an offset such as +24h.

Example:
  privyctl create-market --id 1 --question "Will it rain?" --deadline +24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := parseDeadline(deadline, time.Now())
			if err != nil {
				return err
			}
			if claimWindow%time.Second != 0 {
				return errors.New("--claim-window must be a whole number of seconds")
			}
			return post(cmd, rootOpts, "/api/markets", map[string]any{
				"id":                   id,
				"question":             question,
				"deadline":             dl,
				"claim_window_seconds": int64(claimWindow / time.Second),
			})
		},
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "market id")
	cmd.Flags().StringVar(&question, "question", "", "market question")
	cmd.Flags().StringVar(&deadline, "deadline", "", "betting deadline (RFC 3339 or +duration)")
	cmd.Flags().DurationVar(&claimWindow, "claim-window", 0, "claim window after resolution (default: server setting)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

// NewBetCommand creates the bet command.
func NewBetCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		amount          uint64
		side, secret    string
		commitmentInput string
	)

	cmd := &cobra.Command{
		Use:   "bet <market-id>",
		Short: "Place a committed bet",
		Long: `Place a bet on a market. Pass a precomputed --commitment, or --side
(and optionally --secret) to commit locally. The secret is printed with the
response and must be kept to claim.

Example:
  privyctl bet 1 --side no --amount 500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "/bets")
			if err != nil {
				return err
			}

			var local *commitOutput
			switch {
			case commitmentInput != "" && side != "":
				return errors.New("use either --commitment or --side, not both")
			case commitmentInput == "":
				if side == "" {
					return errors.New("one of --commitment or --side is required")
				}
				s, err := parseSide(side)
				if err != nil {
					return err
				}
				c, err := newCommitment(secret, s)
				if err != nil {
					return err
				}
				local = &c
				commitmentInput = c.Commitment
			}

			c, err := rootOpts.client()
			if err != nil {
				return err
			}
			var position json.RawMessage
			if err := c.Post(cmd.Context(), path, map[string]any{
				"commitment": commitmentInput,
				"amount":     amount,
			}, &position); err != nil {
				return err
			}
			if local == nil {
				return printJSON(cmd.OutOrStdout(), position)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"position": position,
				"reveal":   local,
			})
		},
	}

	cmd.Flags().Uint64Var(&amount, "amount", 0, "stake in native units")
	cmd.Flags().StringVar(&side, "side", "", "yes or no (commits locally)")
	cmd.Flags().StringVar(&secret, "secret", "", "secret for --side (default: random)")
	cmd.Flags().StringVar(&commitmentInput, "commitment", "", "precomputed 0x commitment")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var outcome string

	cmd := &cobra.Command{
		Use:   "resolve <market-id>",
		Short: "Resolve a market after its deadline (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "/resolve")
			if err != nil {
				return err
			}
			o, err := parseSide(outcome)
			if err != nil {
				return err
			}
			return post(cmd, rootOpts, path, map[string]any{"outcome": o})
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "yes or no")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	var side, secret string

	cmd := &cobra.Command{
		Use:   "claim <market-id>",
		Short: "Reveal a bet and claim within the claim window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "/claims")
			if err != nil {
				return err
			}
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			return post(cmd, rootOpts, path, map[string]any{"secret": secret, "side": s})
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "the secret used at bet time")
	cmd.Flags().StringVar(&side, "side", "", "the side committed to (yes or no)")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <market-id>",
		Short: "Distribute the losing pool once the claim window has closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "/finalize")
			if err != nil {
				return err
			}
			return post(cmd, rootOpts, path, struct{}{})
		},
	}
}

// NewMarketCommand creates the market command.
func NewMarketCommand(rootOpts *RootOptions) *cobra.Command {
	var vault bool

	cmd := &cobra.Command{
		Use:   "market <market-id>",
		Short: "Show a market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "")
			if err != nil {
				return err
			}
			var q url.Values
			if vault {
				q = url.Values{"vault": {"true"}}
			}
			return get(cmd, rootOpts, path, q)
		},
	}

	cmd.Flags().BoolVar(&vault, "vault", false, "include the vault balance")
	return cmd
}

// NewMarketsCommand creates the markets command.
func NewMarketsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "markets",
		Short: "List markets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			return get(cmd, rootOpts, "/api/markets", q)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (open or resolved)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

// NewPositionCommand creates the position command.
func NewPositionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "position <market-id> <user>",
		Short: "Show a bettor's position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := marketPath(args[0], "/positions/"+url.PathEscape(args[1]))
			if err != nil {
				return err
			}
			return get(cmd, rootOpts, path, nil)
		},
	}
}
