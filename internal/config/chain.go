package config

import (
	"errors"
	"os"
	"slices"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type ChainConfig struct {
	RPCUrl string

	// OperatorKey is the hex-encoded private key the engine settles with.
	OperatorKey string

	// WrappedNative is the wrapped-native token used as the payment leg of
	// every bundle.
	WrappedNative string

	// CustodyVault and CustodyState are the deposit-vault contracts packs
	// settle into.
	CustodyVault   string
	CustodyState   string
	PackCollection string
}

func (c *ChainConfig) Key() string {
	return CHAIN_CONFIG_KEY
}

func (c *ChainConfig) Load() error {
	c.RPCUrl = os.Getenv("RPC_URL")
	c.OperatorKey = os.Getenv("OPERATOR_KEY")
	c.WrappedNative = os.Getenv("WRAPPED_NATIVE_ADDRESS")
	c.CustodyVault = os.Getenv("CUSTODY_VAULT_ADDRESS")
	c.CustodyState = os.Getenv("CUSTODY_STATE_ADDRESS")
	c.PackCollection = os.Getenv("PACK_COLLECTION_ADDRESS")
	return nil
}

func (c *ChainConfig) Validate() error {
	if slices.Contains([]string{c.RPCUrl, c.OperatorKey, c.WrappedNative, c.CustodyVault, c.PackCollection}, "") {
		return errors.New("invalid chain config")
	}
	for _, addr := range []string{c.WrappedNative, c.CustodyVault, c.PackCollection} {
		if !ethcommon.IsHexAddress(addr) {
			return errors.New("invalid chain config: bad address " + addr)
		}
	}
	return nil
}

func (c *ChainConfig) WrappedNativeAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.WrappedNative)
}

func (c *ChainConfig) CustodyVaultAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.CustodyVault)
}

func (c *ChainConfig) CustodyStateAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.CustodyState)
}

func (c *ChainConfig) PackCollectionAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.PackCollection)
}
