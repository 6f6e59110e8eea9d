package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeTrader AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Trader sub-types
	SubTypeMargin  AccountSubType = iota // Collateral locked in open positions
	SubTypeEscrow                        // Collateral escrowed by pending orders
	SubTypeRewards                       // Keeper bonuses earned

	// System sub-types
	SubTypeSystemFees
	SubTypeSystemPool

	// External sub-types
	SubTypeExternalWallet // Boundary to trader wallets
)

// AssetID maps asset strings to numeric IDs
type AssetID uint16

// QuoteAssetID is the single settlement asset.
const QuoteAssetID AssetID = 1

var (
	assetToID = map[string]AssetID{
		"USDC": QuoteAssetID,
	}
	idToAsset = map[AssetID]string{
		QuoteAssetID: "USDC",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for traders, name hash for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewTraderAccountKey creates a key for trader accounts
func NewTraderAccountKey(trader uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeTrader,
		EntityID: trader,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeTrader:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("trader:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeMargin:
		return "margin"
	case SubTypeEscrow:
		return "escrow"
	case SubTypeRewards:
		return "rewards"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeSystemPool:
		return "pool"
	case SubTypeExternalWallet:
		return "wallet"
	default:
		return "unknown"
	}
}
