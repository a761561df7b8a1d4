package config

import (
	"errors"
	"math/big"

	"github.com/andrew-solarstorm/go-packages/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type ProtocolConfig struct {
	// DBPath is the path to the BoltDB file backing packs, bundlers, the
	// allow-list and the referral ledger.
	// Default: "./data/packvault.db"
	DBPath string

	// Treasury receives protocol fees and swept dust.
	Treasury string

	// ProtocolFeeWei is the flat fee charged per bundle and per unbundle.
	ProtocolFeeWei string

	// AllowUnlisted, when true, skips allow-list checks. Dev only.
	AllowUnlisted bool
}

func (c *ProtocolConfig) Key() string {
	return PROTOCOL_CONFIG_KEY
}

func (c *ProtocolConfig) Load() error {
	c.DBPath = common.GetEnvOrDefault("PROTOCOL_DB_PATH", "./data/packvault.db")
	c.Treasury = common.GetEnvOrDefault("TREASURY_ADDRESS", "")
	c.ProtocolFeeWei = common.GetEnvOrDefault("PROTOCOL_FEE_WEI", "100000000000000")
	c.AllowUnlisted = common.GetEnvOrDefault("ALLOW_UNLISTED", "false") == "true"
	return nil
}

func (c *ProtocolConfig) Validate() error {
	if !ethcommon.IsHexAddress(c.Treasury) {
		return errors.New("invalid protocol config: bad treasury address")
	}
	if _, ok := new(big.Int).SetString(c.ProtocolFeeWei, 10); !ok {
		return errors.New("invalid protocol config: bad fee")
	}
	return nil
}

func (c *ProtocolConfig) TreasuryAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.Treasury)
}

func (c *ProtocolConfig) FeeWei() *big.Int {
	fee, _ := new(big.Int).SetString(c.ProtocolFeeWei, 10)
	return fee
}
