package genesis

import (
	"testing"

	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/pkg/crypto"
	"github.com/haschain/miniroha/pkg/model"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return Config{
		ChainID: "miniroha-test",
		Domains: []model.Domain{{ID: "root"}},
		Accounts: []Account{
			{ID: "admin@root", PublicKey: crypto.EncodePublicKey(key.PublicKey()), Roles: []string{"admin"}},
			{ID: "alice@root", PublicKey: "ed25519:abc", Roles: []string{"treasurer"}},
		},
		Assets: []model.Asset{{ID: "usd#root", Precision: 2}},
		Balances: []Balance{
			{AssetID: "usd#root", AccountID: "alice@root", Amount: "100.00"},
		},
		Roles: []model.Role{
			{ID: "admin", Permissions: []string{"*"}},
			{ID: "treasurer", Permissions: []string{"MintAsset", "BurnAsset", "TransferAsset"}},
		},
		Validators: []model.Validator{
			{ID: "node1", PublicKey: crypto.EncodePublicKey(key.PublicKey())},
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("Validate() error: %v, want nil", err)
	}
}

func TestConfig_Validate_AccountUndeclaredDomain(t *testing.T) {
	c := validConfig(t)
	c.Accounts = append(c.Accounts, Account{ID: "bob@nowhere", PublicKey: "ed25519:x"})
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject an account referencing an undeclared domain")
	}
}

func TestConfig_Validate_AssetUndeclaredDomain(t *testing.T) {
	c := validConfig(t)
	c.Assets = append(c.Assets, model.Asset{ID: "idr#nowhere", Precision: 2})
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject an asset referencing an undeclared domain")
	}
}

func TestConfig_Validate_AssetBadPrecision(t *testing.T) {
	c := validConfig(t)
	c.Assets = append(c.Assets, model.Asset{ID: "xyz#root", Precision: -1})
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject a negative precision")
	}
}

func TestConfig_Validate_BalanceUndeclaredAsset(t *testing.T) {
	c := validConfig(t)
	c.Balances = append(c.Balances, Balance{AssetID: "missing#root", AccountID: "alice@root", Amount: "1"})
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject a balance referencing an undeclared asset")
	}
}

func TestConfig_Validate_BalanceUndeclaredAccount(t *testing.T) {
	c := validConfig(t)
	c.Balances = append(c.Balances, Balance{AssetID: "usd#root", AccountID: "ghost@root", Amount: "1"})
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject a balance referencing an undeclared account")
	}
}

func TestConfig_Validate_NoValidators(t *testing.T) {
	c := validConfig(t)
	c.Validators = nil
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject a config with no validators")
	}
}

func TestConfig_Validate_NoAdminRole(t *testing.T) {
	c := validConfig(t)
	c.Roles = []model.Role{{ID: "treasurer", Permissions: []string{"MintAsset"}}}
	if err := c.Validate(); err == nil {
		t.Error(`Validate() should reject a config lacking an "admin" role with "*"`)
	}
}

func TestConfig_Validate_NoAdminHolder(t *testing.T) {
	c := validConfig(t)
	c.Accounts[0].Roles = []string{"treasurer"} // admin@root no longer holds admin
	if err := c.Validate(); err == nil {
		t.Error("Validate() should reject a config where no account holds the admin role")
	}
}

func TestBootstrap_InstallsGenesisBlock(t *testing.T) {
	s := state.New(storage.NewMemory())
	cfg := validConfig(t)

	if err := Bootstrap(s, cfg, 1700000000); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}

	bootstrapped, err := s.IsBootstrapped()
	if err != nil || !bootstrapped {
		t.Fatalf("IsBootstrapped() = (%v, %v), want (true, nil)", bootstrapped, err)
	}

	chainID, err := s.GetChainID()
	if err != nil || chainID != "miniroha-test" {
		t.Errorf("GetChainID() = (%q, %v), want miniroha-test", chainID, err)
	}

	if has, _ := s.HasDomain("root"); !has {
		t.Error("genesis domain not installed")
	}
	if has, _ := s.HasAccount("alice@root"); !has {
		t.Error("genesis account not installed")
	}
	if has, _ := s.HasAsset("usd#root"); !has {
		t.Error("genesis asset not installed")
	}

	bal, err := s.GetBalance("usd#root", "alice@root")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal.String() != "10000" {
		t.Errorf("GetBalance(alice@root) = %s, want 10000 (100.00 at precision 2)", bal)
	}

	roles, err := s.GetAccountRoles("alice@root")
	if err != nil || len(roles) != 1 || roles[0] != "treasurer" {
		t.Errorf("GetAccountRoles(alice@root) = (%v, %v), want [treasurer]", roles, err)
	}

	v, err := s.GetValidator("node1")
	if err != nil || v.ID != "node1" {
		t.Errorf("GetValidator(node1) = (%v, %v), want node1", v, err)
	}

	b, err := s.GetBlock(1)
	if err != nil || b.Header.Height != 1 {
		t.Errorf("GetBlock(1) = (%v, %v), want height 1", b, err)
	}
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := state.New(storage.NewMemory())
	cfg := validConfig(t)

	if err := Bootstrap(s, cfg, 1700000000); err != nil {
		t.Fatalf("first Bootstrap() error: %v", err)
	}
	if err := Bootstrap(s, cfg, 1800000000); err != nil {
		t.Fatalf("second Bootstrap() error: %v", err)
	}

	height, err := s.GetLastHeight()
	if err != nil || height != 1 {
		t.Errorf("GetLastHeight() after repeated Bootstrap() = (%d, %v), want 1", height, err)
	}
}

func TestBootstrap_RejectsInvalidConfig(t *testing.T) {
	s := state.New(storage.NewMemory())
	cfg := validConfig(t)
	cfg.Validators = nil

	if err := Bootstrap(s, cfg, 1700000000); err == nil {
		t.Error("Bootstrap() should reject an invalid config")
	}
	bootstrapped, _ := s.IsBootstrapped()
	if bootstrapped {
		t.Error("a rejected Bootstrap() must not leave the store bootstrapped")
	}
}
