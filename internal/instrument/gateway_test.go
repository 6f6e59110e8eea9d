package instrument

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func testConfig(key string) Config {
	return Config{
		Key:                key,
		Active:             true,
		MaxLeverage:        50,
		MaxDeviationBP:     500, // 5%
		MaxStalenessMicros: 60_000_000,
		MaxOpenInterest:    1_000_000_000_000,
		MinCollateral:      1_000_000,
		MaxCollateral:      1_000_000_000_000,
		OpenFeeBP:          10,
		CloseFeeBP:         10,
	}
}

func newTestGateway(t *testing.T) (*Gateway, *Registry, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	reg := NewRegistry()
	if _, err := reg.Apply(testConfig("BTC-PERP")); err != nil {
		t.Fatalf("register instrument: %v", err)
	}
	return NewGateway(reg, []ed25519.PublicKey{pub}), reg, priv
}

func signQuote(priv ed25519.PrivateKey, key string, price, seq, ts int64) []byte {
	return ed25519.Sign(priv, FeedMessage(key, price, seq, ts))
}

func TestApplyTrusted(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	inst, err := gw.ApplyTrusted("BTC-PERP", 50_000_00000000, 1, 1_000_000)
	if err != nil {
		t.Fatalf("ApplyTrusted: %v", err)
	}
	if inst.Price != 50_000_00000000 {
		t.Errorf("price = %d, want %d", inst.Price, int64(50_000_00000000))
	}
	if !inst.HasQuote {
		t.Error("HasQuote = false after trusted update")
	}
}

func TestApplyTrustedRejectsNonPositive(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	for _, price := range []int64{0, -1} {
		if _, err := gw.ApplyTrusted("BTC-PERP", price, 1, 1_000_000); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("ApplyTrusted(price=%d) error = %v, want ErrInvalidPrice", price, err)
		}
	}
}

func TestApplyTrustedBypassesDeviation(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	if _, err := gw.ApplyTrusted("BTC-PERP", 50_000_00000000, 1, 1_000_000); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// 100% move, far beyond the 5% bound, accepted on the trusted path
	if _, err := gw.ApplyTrusted("BTC-PERP", 100_000_00000000, 2, 2_000_000); err != nil {
		t.Errorf("trusted path applied deviation bound: %v", err)
	}
}

func TestApplyWithProof(t *testing.T) {
	gw, _, priv := newTestGateway(t)

	sig := signQuote(priv, "BTC-PERP", 50_000_00000000, 1, 1_000_000)
	inst, err := gw.ApplyWithProof("BTC-PERP", 50_000_00000000, 1, 1_000_000, 0, sig)
	if err != nil {
		t.Fatalf("ApplyWithProof: %v", err)
	}
	if inst.Price != 50_000_00000000 {
		t.Errorf("price = %d, want %d", inst.Price, int64(50_000_00000000))
	}
}

func TestApplyWithProofRejectsBadSignature(t *testing.T) {
	gw, _, priv := newTestGateway(t)

	// Signature over a different price
	sig := signQuote(priv, "BTC-PERP", 49_999_00000000, 1, 1_000_000)
	_, err := gw.ApplyWithProof("BTC-PERP", 50_000_00000000, 1, 1_000_000, 0, sig)
	if !errors.Is(err, ErrInvalidFeedProof) {
		t.Errorf("error = %v, want ErrInvalidFeedProof", err)
	}
}

func TestApplyWithProofRejectsUnknownFeed(t *testing.T) {
	gw, _, priv := newTestGateway(t)

	sig := signQuote(priv, "BTC-PERP", 50_000_00000000, 1, 1_000_000)
	_, err := gw.ApplyWithProof("BTC-PERP", 50_000_00000000, 1, 1_000_000, 7, sig)
	if !errors.Is(err, ErrInvalidFeedProof) {
		t.Errorf("error = %v, want ErrInvalidFeedProof", err)
	}
}

func TestApplyWithProofDeviationBound(t *testing.T) {
	gw, _, priv := newTestGateway(t)

	sig := signQuote(priv, "BTC-PERP", 50_000_00000000, 1, 1_000_000)
	if _, err := gw.ApplyWithProof("BTC-PERP", 50_000_00000000, 1, 1_000_000, 0, sig); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// 6% move against a 5% bound
	bad := int64(53_000_00000000)
	sig = signQuote(priv, "BTC-PERP", bad, 2, 2_000_000)
	if _, err := gw.ApplyWithProof("BTC-PERP", bad, 2, 2_000_000, 0, sig); !errors.Is(err, ErrDeviationExceeded) {
		t.Errorf("error = %v, want ErrDeviationExceeded", err)
	}

	// Rejection leaves the previous quote in place
	q, _, err := gw.FreshQuote("BTC-PERP", 2_000_000)
	if err != nil {
		t.Fatalf("FreshQuote: %v", err)
	}
	if q.Price != 50_000_00000000 {
		t.Errorf("price after rejected update = %d, want unchanged", q.Price)
	}

	// 4% move passes
	ok := int64(52_000_00000000)
	sig = signQuote(priv, "BTC-PERP", ok, 3, 3_000_000)
	if _, err := gw.ApplyWithProof("BTC-PERP", ok, 3, 3_000_000, 0, sig); err != nil {
		t.Errorf("4%% move rejected: %v", err)
	}
}

func TestFirstProofedQuoteSkipsDeviation(t *testing.T) {
	gw, _, priv := newTestGateway(t)

	// No reference quote exists, so any signed price is accepted
	sig := signQuote(priv, "BTC-PERP", 1_00000000, 1, 1_000_000)
	if _, err := gw.ApplyWithProof("BTC-PERP", 1_00000000, 1, 1_000_000, 0, sig); err != nil {
		t.Errorf("first quote rejected: %v", err)
	}
}

func TestFreshQuoteStaleness(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	if _, _, err := gw.FreshQuote("BTC-PERP", 0); !errors.Is(err, ErrPriceStale) {
		t.Errorf("no quote yet: error = %v, want ErrPriceStale", err)
	}

	if _, err := gw.ApplyTrusted("BTC-PERP", 50_000_00000000, 1, 1_000_000); err != nil {
		t.Fatalf("ApplyTrusted: %v", err)
	}

	// Within the 60s bound
	if _, _, err := gw.FreshQuote("BTC-PERP", 1_000_000+60_000_000); err != nil {
		t.Errorf("fresh quote rejected: %v", err)
	}

	// One microsecond past the bound
	if _, _, err := gw.FreshQuote("BTC-PERP", 1_000_000+60_000_001); !errors.Is(err, ErrPriceStale) {
		t.Errorf("stale quote: error = %v, want ErrPriceStale", err)
	}
}

func TestFreshQuoteInactiveInstrument(t *testing.T) {
	gw, reg, _ := newTestGateway(t)

	if _, err := gw.ApplyTrusted("BTC-PERP", 50_000_00000000, 1, 1_000_000); err != nil {
		t.Fatalf("ApplyTrusted: %v", err)
	}

	cfg := testConfig("BTC-PERP")
	cfg.Active = false
	if _, err := reg.Apply(cfg); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, _, err := gw.FreshQuote("BTC-PERP", 1_000_000); !errors.Is(err, ErrInstrumentInactive) {
		t.Errorf("error = %v, want ErrInstrumentInactive", err)
	}
}

func TestRegistryAppendOnly(t *testing.T) {
	reg := NewRegistry()

	for _, key := range []string{"BTC-PERP", "ETH-PERP", "SOL-PERP"} {
		if _, err := reg.Apply(testConfig(key)); err != nil {
			t.Fatalf("register %s: %v", key, err)
		}
	}

	// Deactivation does not remove
	cfg := testConfig("ETH-PERP")
	cfg.Active = false
	if _, err := reg.Apply(cfg); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	keys := reg.Keys()
	want := []string{"BTC-PERP", "ETH-PERP", "SOL-PERP"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	inst, err := reg.Get("ETH-PERP")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inst.Active {
		t.Error("ETH-PERP still active after deactivation")
	}
}

func TestReconfigureKeepsQuote(t *testing.T) {
	gw, reg, _ := newTestGateway(t)

	if _, err := gw.ApplyTrusted("BTC-PERP", 50_000_00000000, 5, 1_000_000); err != nil {
		t.Fatalf("ApplyTrusted: %v", err)
	}

	cfg := testConfig("BTC-PERP")
	cfg.OpenFeeBP = 25
	inst, err := reg.Apply(cfg)
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if !inst.HasQuote || inst.Price != 50_000_00000000 || inst.PriceSequence != 5 {
		t.Errorf("quote lost across reconfigure: %+v", inst)
	}
	if inst.OpenFeeBP != 25 {
		t.Errorf("OpenFeeBP = %d, want 25", inst.OpenFeeBP)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty key", func(c *Config) { c.Key = "" }},
		{"zero leverage", func(c *Config) { c.MaxLeverage = 0 }},
		{"zero deviation", func(c *Config) { c.MaxDeviationBP = 0 }},
		{"deviation too large", func(c *Config) { c.MaxDeviationBP = 10_000 }},
		{"zero staleness", func(c *Config) { c.MaxStalenessMicros = 0 }},
		{"zero open interest", func(c *Config) { c.MaxOpenInterest = 0 }},
		{"zero min collateral", func(c *Config) { c.MinCollateral = 0 }},
		{"max collateral below min", func(c *Config) { c.MaxCollateral = c.MinCollateral - 1 }},
		{"negative open fee", func(c *Config) { c.OpenFeeBP = -1 }},
		{"open fee above cap", func(c *Config) { c.OpenFeeBP = 1001 }},
		{"close fee above cap", func(c *Config) { c.CloseFeeBP = 1001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("BTC-PERP")
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
