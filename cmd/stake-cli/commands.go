package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"yieldstake/cmd/internal/passphrase"
	"yieldstake/crypto"
	"yieldstake/gateway/middleware"
	"yieldstake/native/staking"
	stakingsdk "yieldstake/sdk/staking"
)

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func withClient(opts globalOptions, stderr io.Writer, fn func(context.Context, *stakingsdk.Client) error) int {
	client, err := newClient(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := fn(ctx, client); err != nil {
		return reportError(stderr, err)
	}
	return 0
}

func reportError(stderr io.Writer, err error) int {
	var apiErr *stakingsdk.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(stderr, "Error (%d %s): %s\n", apiErr.Status, apiErr.Code, apiErr.Message)
		for key, value := range apiErr.Details {
			fmt.Fprintf(stderr, "  %s: %s\n", key, value)
		}
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	path := fs.String("keystore", "wallet.keystore", "output keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			fmt.Fprintf(stderr, "Error: keystore %s already exists (use --force to overwrite)\n", *path)
			return 1
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "wallet keystore").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Keystore: %s\nAddress:  %s\n", *path, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var owner ownerFlags
	owner.bind(fs, "owner")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := owner.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, addr)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	subject := fs.String("subject", "", "address the token acts for")
	scopes := fs.StringSlice("scope", []string{middleware.ScopeStake}, "granted scopes")
	secretEnv := fs.String("secret-env", "STAKINGD_JWT_SECRET", "environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		return 1
	}
	token, err := middleware.IssueToken(middleware.TokenRequest{
		Secret:   os.Getenv(*secretEnv),
		Subject:  strings.TrimSpace(*subject),
		Scopes:   *scopes,
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runConfig(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: stake-cli config")
		return 1
	}
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		cfg, err := client.Config(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Config version %d (updated %s)\n", cfg.Version, formatTimestamp(cfg.UpdatedAt))
		fmt.Fprintf(stdout, "  Admin:             %s\n", cfg.Admin)
		fmt.Fprintf(stdout, "  Tokens:            stake %s, reward %s (%d decimals)\n", cfg.StakeToken, cfg.RewardToken, cfg.Decimals)
		fmt.Fprintf(stdout, "  Rate:              %s (encoded %d, %s)\n", cfg.RatePerSecond, cfg.RatePerSecondEncoded, cfg.Model)
		fmt.Fprintf(stdout, "  Stake threshold:   %s\n", cfg.StakeThreshold)
		fmt.Fprintf(stdout, "  Unstake threshold: %s\n", cfg.UnstakeThreshold)
		fmt.Fprintf(stdout, "  Harvest threshold: %s\n", cfg.HarvestThreshold)
		return nil
	})
}

func runAccount(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli account <owner>")
		return 1
	}
	owner := strings.TrimSpace(args[0])
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		account, err := client.Account(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Staking account %s (%s)\n", account.Owner, account.State)
		fmt.Fprintf(stdout, "  Staked:        %s\n", account.StakedAmountDisplay)
		fmt.Fprintf(stdout, "  Stake start:   %s\n", formatTimestamp(account.StakeStartTime))
		fmt.Fprintf(stdout, "  Last harvest:  %s\n", formatTimestamp(account.LastHarvestTime))
		fmt.Fprintf(stdout, "  Harvested:     %s\n", account.TotalHarvestedDisplay)
		return nil
	})
}

func runPreview(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli preview <owner>")
		return 1
	}
	owner := strings.TrimSpace(args[0])
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		preview, err := client.Preview(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Pending rewards for %s\n", preview.Owner)
		fmt.Fprintf(stdout, "  Pending:  %s (%s raw)\n", preview.PendingDisplay, preview.Pending)
		fmt.Fprintf(stdout, "  Elapsed:  %ds\n", preview.ElapsedSeconds)
		fmt.Fprintf(stdout, "  Model:    %s at config v%d\n", preview.Model, preview.ConfigVersion)
		return nil
	})
}

func runHistory(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("history", stderr)
	limit := fs.Int("limit", 20, "maximum settlements to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli history <owner> [--limit N]")
		return 1
	}
	owner := strings.TrimSpace(fs.Arg(0))
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		receipts, err := client.History(ctx, owner, *limit)
		if err != nil {
			return err
		}
		if len(receipts) == 0 {
			fmt.Fprintln(stdout, "No settlements")
			return nil
		}
		for _, r := range receipts {
			fmt.Fprintf(stdout, "%s  %-13s amount=%s reward=%s id=%s\n", formatTimestamp(r.SettledAt), r.Operation, displayOr(r.AmountDisplay, r.Amount), displayOr(r.RewardDisplay, r.Reward), r.SettlementID)
		}
		return nil
	})
}

func runMove(opts globalOptions, command string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(command, stderr)
	var owner ownerFlags
	owner.bind(fs, "owner")
	amount := fs.String("amount", "", "amount in display units")
	settlementID := fs.String("settlement-id", "", "reuse a settlement ID from an earlier attempt")
	forfeit := new(bool)
	if command == "unstake" {
		forfeit = fs.Bool("forfeit-reward", false, "return principal without paying the pending reward")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := owner.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	id := settlementIDOrNew(*settlementID)
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		units, err := unitsFor(ctx, client)
		if err != nil {
			return err
		}
		raw, err := units.Parse(*amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Settlement ID: %s\n", id)
		var receipt *stakingsdk.Receipt
		switch {
		case command == "stake":
			receipt, err = client.Stake(ctx, id, addr, strconv.FormatUint(raw, 10))
		case *forfeit:
			receipt, err = client.WithdrawPrincipal(ctx, id, addr, strconv.FormatUint(raw, 10))
		default:
			receipt, err = client.Unstake(ctx, id, addr, strconv.FormatUint(raw, 10))
		}
		if err != nil {
			return err
		}
		printReceipt(stdout, receipt, units)
		return nil
	})
}

func runHarvest(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("harvest", stderr)
	var owner ownerFlags
	owner.bind(fs, "owner")
	settlementID := fs.String("settlement-id", "", "reuse a settlement ID from an earlier attempt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := owner.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	id := settlementIDOrNew(*settlementID)
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		units, err := unitsFor(ctx, client)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Settlement ID: %s\n", id)
		receipt, err := client.Harvest(ctx, id, addr)
		if err != nil {
			return err
		}
		printReceipt(stdout, receipt, units)
		return nil
	})
}

func runUpdateConfig(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("update-config", stderr)
	var caller ownerFlags
	caller.bind(fs, "caller")
	rate := fs.Uint32("rate", 0, "encoded rate per second (value / 1e8)")
	stakeThreshold := fs.String("stake-threshold", "", "stake threshold in display units")
	unstakeThreshold := fs.String("unstake-threshold", "", "unstake threshold in display units")
	harvestThreshold := fs.String("harvest-threshold", "", "harvest threshold in display units")
	settlementID := fs.String("settlement-id", "", "reuse a settlement ID from an earlier attempt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := caller.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	id := settlementIDOrNew(*settlementID)
	rateSet := fs.Changed("rate")
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		current, err := client.Config(ctx)
		if err != nil {
			return err
		}
		units, err := staking.NewUnits(current.Decimals)
		if err != nil {
			return err
		}
		update := stakingsdk.ConfigUpdate{
			Caller:               addr,
			RatePerSecondEncoded: current.RatePerSecondEncoded,
			StakeThresholdRaw:    current.StakeThresholdRaw,
			UnstakeThresholdRaw:  current.UnstakeThresholdRaw,
			HarvestThresholdRaw:  current.HarvestThresholdRaw,
		}
		if rateSet {
			update.RatePerSecondEncoded = *rate
		}
		for _, field := range []struct {
			display string
			target  *string
		}{
			{*stakeThreshold, &update.StakeThresholdRaw},
			{*unstakeThreshold, &update.UnstakeThresholdRaw},
			{*harvestThreshold, &update.HarvestThresholdRaw},
		} {
			if strings.TrimSpace(field.display) == "" {
				continue
			}
			raw, err := units.Parse(field.display)
			if err != nil {
				return err
			}
			*field.target = strconv.FormatUint(raw, 10)
		}
		fmt.Fprintf(stderr, "Settlement ID: %s\n", id)
		receipt, err := client.UpdateConfig(ctx, id, update)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Config updated to version %d (%s)\n", receipt.ConfigVersion, receipt.Status)
		return nil
	})
}

func runFund(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund", stderr)
	var caller ownerFlags
	caller.bind(fs, "caller")
	amount := fs.String("amount", "", "reward tokens to deposit, in display units")
	settlementID := fs.String("settlement-id", "", "reuse a settlement ID from an earlier attempt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := caller.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	id := settlementIDOrNew(*settlementID)
	return withClient(opts, stderr, func(ctx context.Context, client *stakingsdk.Client) error {
		units, err := unitsFor(ctx, client)
		if err != nil {
			return err
		}
		raw, err := units.Parse(*amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Settlement ID: %s\n", id)
		receipt, err := client.FundRewards(ctx, id, addr, strconv.FormatUint(raw, 10))
		if err != nil {
			return err
		}
		printReceipt(stdout, receipt, units)
		return nil
	})
}

func unitsFor(ctx context.Context, client *stakingsdk.Client) (staking.Units, error) {
	cfg, err := client.Config(ctx)
	if err != nil {
		return staking.Units{}, err
	}
	return staking.NewUnits(cfg.Decimals)
}

func settlementIDOrNew(id string) string {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		return trimmed
	}
	return stakingsdk.NewSettlementID()
}

func printReceipt(w io.Writer, r *stakingsdk.Receipt, units staking.Units) {
	if r.AlreadySettled() {
		fmt.Fprintf(w, "Settlement %s was already applied\n", r.SettlementID)
	} else {
		fmt.Fprintf(w, "Settled %s %s\n", r.Operation, r.SettlementID)
	}
	fmt.Fprintf(w, "  Amount:        %s\n", formatRawString(units, r.Amount))
	fmt.Fprintf(w, "  Reward:        %s\n", formatRawString(units, r.Reward))
	fmt.Fprintf(w, "  Staked after:  %s\n", formatRawString(units, r.StakedAfter))
	fmt.Fprintf(w, "  Harvested:     %s\n", formatRawString(units, r.TotalHarvested))
	if r.ForfeitReason != "" {
		fmt.Fprintf(w, "  Forfeited:     %s (%s)\n", formatRawString(units, r.Forfeited), r.ForfeitReason)
	}
}

func formatRawString(units staking.Units, raw string) string {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return raw
	}
	return units.Format(value)
}

func displayOr(display, raw string) string {
	if display != "" {
		return display
	}
	return raw
}

func formatTimestamp(ts int64) string {
	if ts <= 0 {
		return "never"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
