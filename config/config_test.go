package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"yieldstake/crypto"
	"yieldstake/native/staking"
)

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func testAdmin(t *testing.T) crypto.Address {
	t.Helper()
	return crypto.AddressFromArray(crypto.OwnerPrefix, [20]byte{0x42, 0x24})
}

func TestLoadParsesGenesis(t *testing.T) {
	admin := testAdmin(t)
	path := writeGenesis(t, fmt.Sprintf(`Admin = "%s"
RatePerSecond = "0.00000012"
Model = "compound"
Decimals = 9
StakeToken = "stk"
RewardToken = "rwd"
StakeThreshold = "1.5"
UnstakeThreshold = "0.5"
HarvestThreshold = "0.000000001"

[[Allocation]]
Address = "%s"
Token = "rwd"
Amount = "10.368"
`, admin, admin))

	g, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := g.ProgramConfig()
	if err != nil {
		t.Fatalf("program config: %v", err)
	}
	if cfg.RatePerSecondEncoded != 12 {
		t.Fatalf("unexpected encoded rate %d", cfg.RatePerSecondEncoded)
	}
	if cfg.Model != staking.ModelCompound {
		t.Fatalf("unexpected model %s", cfg.Model)
	}
	if cfg.StakeThresholdRaw != 1_500_000_000 || cfg.UnstakeThresholdRaw != 500_000_000 || cfg.HarvestThresholdRaw != 1 {
		t.Fatalf("unexpected thresholds %+v", cfg)
	}
	if cfg.StakeToken != "STK" || cfg.RewardToken != "RWD" {
		t.Fatalf("tokens not normalised: %s %s", cfg.StakeToken, cfg.RewardToken)
	}
	if cfg.Admin != admin.Array() {
		t.Fatalf("unexpected admin %x", cfg.Admin)
	}

	balances, err := g.Balances()
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 || balances[0].AmountRaw != 10_368_000_000 || balances[0].Token != "RWD" {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

func TestLoadDefaultsModelToLinear(t *testing.T) {
	path := writeGenesis(t, fmt.Sprintf(`Admin = "%s"
RatePerSecondEncoded = 12000
Decimals = 6
StakeToken = "STK"
RewardToken = "RWD"
`, testAdmin(t)))
	g, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := g.ProgramConfig()
	if err != nil {
		t.Fatalf("program config: %v", err)
	}
	if cfg.Model != staking.ModelLinear || cfg.RatePerSecondEncoded != 12_000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeGenesis(t, `Admin = "x"
Paused = true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestProgramConfigValidation(t *testing.T) {
	admin := testAdmin(t).String()
	cases := []struct {
		name    string
		genesis Genesis
		want    error
	}{
		{"missing rate", Genesis{Admin: admin, Decimals: 9, StakeToken: "A", RewardToken: "B"}, staking.ErrInvalidRate},
		{"negative rate", Genesis{Admin: admin, RatePerSecond: "-0.1", Decimals: 9, StakeToken: "A", RewardToken: "B"}, staking.ErrInvalidRate},
		{"bad decimals", Genesis{Admin: admin, RatePerSecondEncoded: 1, Decimals: 30, StakeToken: "A", RewardToken: "B"}, staking.ErrInvalidDecimals},
		{"bad model", Genesis{Admin: admin, RatePerSecondEncoded: 1, Model: "exp", StakeToken: "A", RewardToken: "B"}, staking.ErrInvalidModel},
		{"bad threshold", Genesis{Admin: admin, RatePerSecondEncoded: 1, StakeThreshold: "1e3", StakeToken: "A", RewardToken: "B"}, staking.ErrInvalidAmount},
		{"vault admin", Genesis{Admin: crypto.VaultAddress("stake").String(), RatePerSecondEncoded: 1, StakeToken: "A", RewardToken: "B"}, crypto.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.genesis.ProgramConfig()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	both := Genesis{Admin: admin, RatePerSecond: "0.0001", RatePerSecondEncoded: 5, StakeToken: "A", RewardToken: "B"}
	if _, err := both.ProgramConfig(); err == nil {
		t.Fatalf("expected error when both rate forms are set")
	}
}

func TestLoadCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.toml")

	g, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("genesis not persisted: %v", err)
	}
	key, err := crypto.LoadFromKeystore(g.AdminKeystorePath, "")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if key.PubKey().Address().String() != g.Admin {
		t.Fatalf("keystore does not match admin %s", g.Admin)
	}
	if _, err := g.ProgramConfig(); err != nil {
		t.Fatalf("default genesis invalid: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Admin != g.Admin || len(reloaded.Allocations) != 1 {
		t.Fatalf("reloaded genesis differs: %+v", reloaded)
	}
}

func TestExampleGenesisLoads(t *testing.T) {
	g, err := Load("genesis.example.toml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	cfg, err := g.ProgramConfig()
	if err != nil {
		t.Fatalf("program config: %v", err)
	}
	var admin [20]byte
	for i := range admin {
		admin[i] = 0x11
	}
	if cfg.Admin != admin || cfg.RatePerSecondEncoded != 12 || cfg.HarvestThresholdRaw != 1_000_000 {
		t.Fatalf("unexpected program config %+v", cfg)
	}
	balances, err := g.Balances()
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 || balances[1].Token != "STK" || balances[1].AmountRaw != 5_000_000_000_000 {
		t.Fatalf("unexpected balances %+v", balances)
	}
}
