package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"yieldstake/cmd/internal/passphrase"
	"yieldstake/crypto"
	stakingsdk "yieldstake/sdk/staking"
)

const (
	defaultServer  = "http://localhost:8088"
	defaultPassEnv = "STAKE_CLI_PASS"
)

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
}

var newClient = func(opts globalOptions) (*stakingsdk.Client, error) {
	return stakingsdk.New(opts.server, stakingsdk.WithToken(opts.token))
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseGlobal(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(rest) == 0 {
		printUsage(stderr)
		return 1
	}

	command, cmdArgs := rest[0], rest[1:]
	switch command {
	case "keygen":
		return runKeygen(cmdArgs, stdout, stderr)
	case "address":
		return runAddress(cmdArgs, stdout, stderr)
	case "token":
		return runToken(cmdArgs, stdout, stderr)
	case "config":
		return runConfig(opts, cmdArgs, stdout, stderr)
	case "account":
		return runAccount(opts, cmdArgs, stdout, stderr)
	case "preview":
		return runPreview(opts, cmdArgs, stdout, stderr)
	case "history":
		return runHistory(opts, cmdArgs, stdout, stderr)
	case "stake", "unstake":
		return runMove(opts, command, cmdArgs, stdout, stderr)
	case "harvest":
		return runHarvest(opts, cmdArgs, stdout, stderr)
	case "update-config":
		return runUpdateConfig(opts, cmdArgs, stdout, stderr)
	case "fund":
		return runFund(opts, cmdArgs, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", command)
		printUsage(stderr)
		return 1
	}
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	fs := pflag.NewFlagSet("stake-cli", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	opts := globalOptions{}
	fs.StringVar(&opts.server, "server", envOr("STAKE_SERVER", defaultServer), "stakingd base URL")
	fs.StringVar(&opts.token, "token", os.Getenv("STAKE_TOKEN"), "bearer token for settlement endpoints")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall request timeout")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// ownerFlags resolves an owner either from --owner or from a keystore.
type ownerFlags struct {
	owner    string
	keystore string
	passEnv  string
}

func (o *ownerFlags) bind(fs *pflag.FlagSet, name string) {
	fs.StringVar(&o.owner, name, "", "bech32 "+name+" address")
	fs.StringVar(&o.keystore, "keystore", "", "keystore file to derive the "+name+" address from")
	fs.StringVar(&o.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
}

func (o *ownerFlags) resolve() (string, error) {
	if owner := strings.TrimSpace(o.owner); owner != "" {
		if _, err := crypto.DecodeOwner(owner); err != nil {
			return "", err
		}
		return owner, nil
	}
	if strings.TrimSpace(o.keystore) == "" {
		return "", fmt.Errorf("an address or --keystore is required")
	}
	pass, err := passphrase.NewSource(o.passEnv, "wallet keystore").Get()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(o.keystore, pass)
	if err != nil {
		return "", fmt.Errorf("load keystore: %w", err)
	}
	return key.PubKey().Address().String(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: stake-cli [--server URL] [--token JWT] <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Wallet:")
	fmt.Fprintln(w, "  keygen --keystore <path>            create a wallet keystore and print its address")
	fmt.Fprintln(w, "  address --keystore <path>           print the address held by a keystore")
	fmt.Fprintln(w, "  token --subject <addr> --scope ...  mint an HS256 token from STAKINGD_JWT_SECRET")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  config                              show the program configuration")
	fmt.Fprintln(w, "  account <owner>                     show a staking account")
	fmt.Fprintln(w, "  preview <owner>                     show pending rewards")
	fmt.Fprintln(w, "  history <owner> [--limit N]         list settlements")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Settlements (amounts in display units):")
	fmt.Fprintln(w, "  stake --owner <addr> --amount <x>")
	fmt.Fprintln(w, "  unstake --owner <addr> --amount <x> [--forfeit-reward]")
	fmt.Fprintln(w, "  harvest --owner <addr>")
	fmt.Fprintln(w, "  update-config --caller <addr> --rate <encoded> [--stake-threshold x] [--unstake-threshold x] [--harvest-threshold x]")
	fmt.Fprintln(w, "  fund --caller <addr> --amount <x>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Settlement commands accept --settlement-id to resume a previous attempt.")
}
