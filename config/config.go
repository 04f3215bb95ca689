package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"yieldstake/crypto"
	"yieldstake/native/staking"
)

// Genesis describes the program configuration applied by Initialize and the
// token balances seeded into a fresh ledger. Amounts are display strings in
// token units; the rate is either a fraction per second or the encoded form.
type Genesis struct {
	Admin                string       `toml:"Admin"`
	AdminKeystorePath    string       `toml:"AdminKeystorePath"`
	RatePerSecond        string       `toml:"RatePerSecond,omitempty"`
	RatePerSecondEncoded uint32       `toml:"RatePerSecondEncoded,omitempty"`
	Model                string       `toml:"Model"`
	Decimals             uint8        `toml:"Decimals"`
	StakeToken           string       `toml:"StakeToken"`
	RewardToken          string       `toml:"RewardToken"`
	StakeThreshold       string       `toml:"StakeThreshold"`
	UnstakeThreshold     string       `toml:"UnstakeThreshold"`
	HarvestThreshold     string       `toml:"HarvestThreshold"`
	Allocations          []Allocation `toml:"Allocation"`
}

// Allocation seeds a token balance at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// Balance is a parsed allocation in raw units.
type Balance struct {
	Address   [20]byte
	Token     string
	AmountRaw uint64
}

// Load loads the genesis file at path, creating a default one (and an admin
// keystore next to it) when the file does not exist.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %s: unknown keys %v", path, undecoded)
	}
	if strings.TrimSpace(g.Model) == "" {
		g.Model = staking.ModelLinear.String()
	}
	return g, nil
}

// ProgramConfig converts the file into the configuration passed to Initialize.
func (g *Genesis) ProgramConfig() (*staking.ProgramConfig, error) {
	admin, err := crypto.DecodeOwner(strings.TrimSpace(g.Admin))
	if err != nil {
		return nil, fmt.Errorf("genesis admin: %w", err)
	}
	model, err := staking.ParseRewardModel(g.Model)
	if err != nil {
		return nil, err
	}
	units, err := staking.NewUnits(g.Decimals)
	if err != nil {
		return nil, err
	}
	encoded, err := g.encodedRate()
	if err != nil {
		return nil, err
	}
	cfg := &staking.ProgramConfig{
		Admin:                admin.Array(),
		RatePerSecondEncoded: encoded,
		Model:                model,
		Decimals:             g.Decimals,
		StakeToken:           g.StakeToken,
		RewardToken:          g.RewardToken,
	}
	thresholds := []struct {
		name  string
		value string
		dst   *uint64
	}{
		{"StakeThreshold", g.StakeThreshold, &cfg.StakeThresholdRaw},
		{"UnstakeThreshold", g.UnstakeThreshold, &cfg.UnstakeThresholdRaw},
		{"HarvestThreshold", g.HarvestThreshold, &cfg.HarvestThresholdRaw},
	}
	for _, th := range thresholds {
		if strings.TrimSpace(th.value) == "" {
			continue
		}
		raw, err := units.Parse(th.value)
		if err != nil {
			return nil, fmt.Errorf("genesis %s: %w", th.name, err)
		}
		*th.dst = raw
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Genesis) encodedRate() (uint32, error) {
	text := strings.TrimSpace(g.RatePerSecond)
	if text == "" {
		if _, err := staking.DecodeRate(g.RatePerSecondEncoded); err != nil {
			return 0, err
		}
		return g.RatePerSecondEncoded, nil
	}
	if g.RatePerSecondEncoded != 0 {
		return 0, fmt.Errorf("genesis: set RatePerSecond or RatePerSecondEncoded, not both")
	}
	fraction, ok := new(big.Rat).SetString(text)
	if !ok {
		return 0, &staking.RateError{Value: text, Reason: "not a decimal number"}
	}
	return staking.EncodeRate(fraction)
}

// Balances parses the allocations into raw units.
func (g *Genesis) Balances() ([]Balance, error) {
	units, err := staking.NewUnits(g.Decimals)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(g.Allocations))
	for i, alloc := range g.Allocations {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis allocation %d: %w", i, err)
		}
		token := strings.ToUpper(strings.TrimSpace(alloc.Token))
		if token == "" {
			return nil, fmt.Errorf("genesis allocation %d: token required", i)
		}
		amount, err := units.Parse(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis allocation %d: %w", i, err)
		}
		out = append(out, Balance{Address: addr.Array(), Token: token, AmountRaw: amount})
	}
	return out, nil
}

// createDefault creates and saves a default genesis file.
func createDefault(path string) (*Genesis, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}
	admin := key.PubKey().Address().String()

	g := &Genesis{
		Admin:                admin,
		AdminKeystorePath:    keystorePath,
		RatePerSecondEncoded: 12,
		Model:                staking.ModelLinear.String(),
		Decimals:             9,
		StakeToken:           "STK",
		RewardToken:          "RWD",
		StakeThreshold:       "1",
		UnstakeThreshold:     "1",
		HarvestThreshold:     "0.001",
		Allocations: []Allocation{
			{Address: admin, Token: "RWD", Amount: "1000000"},
		},
	}
	if err := persist(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}

func defaultKeystorePath(genesisPath string) string {
	dir := filepath.Dir(genesisPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
