// Package ledger books protocol fees and referral credits and pays out
// referral claims.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/adapters/persistence"
	"github.com/packlabs/packvault/internal/chain"
	pvcommon "github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/metrics"
	"github.com/packlabs/packvault/internal/services"
	"github.com/packlabs/packvault/internal/services/chainsvc"
	"github.com/packlabs/packvault/internal/services/storage"
)

const LEDGER_SERVICE = "ledger-service"

// Referral payout schedule in basis points of pack price. A chain of n
// referrers pays every intermediate hop the relay share and the final hop
// whatever remains of the total.
const (
	TotalReferralBps = 330
	RelayReferralBps = 30
	MaxReferralDepth = 3
)

var ErrNothingToClaim = errors.New("nothing to claim")

type account struct {
	balance *big.Int
	earned  *big.Int
	claimed *big.Int
}

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	mu       sync.Mutex
	accounts map[common.Address]*account

	totalFees *big.Int

	backend  chain.Backend
	storage  *persistence.Storage
	treasury common.Address
	feeWei   *big.Int
}

// New builds a standalone ledger for direct use; the DI path goes through
// Configure/Start.
func New(backend chain.Backend, treasury common.Address, feeWei *big.Int) *Service {
	svc := &Service{
		accounts:  make(map[common.Address]*account),
		totalFees: new(big.Int),
		backend:   backend,
		treasury:  treasury,
		feeWei:    new(big.Int).Set(feeWei),
	}
	svc.logger = services.NewServiceLogger(svc)
	return svc
}

func (svc *Service) ID() string {
	return LEDGER_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.accounts = make(map[common.Address]*account)
	svc.totalFees = new(big.Int)

	protocolConfig := c.GetConfig(config.PROTOCOL_CONFIG_KEY).(*config.ProtocolConfig)
	svc.treasury = protocolConfig.TreasuryAddress()
	svc.feeWei = protocolConfig.FeeWei()

	svc.backend = c.Instance(chainsvc.CHAIN_SERVICE).(*chainsvc.Service).Backend()
	svc.storage = c.Instance(storage.STORAGE_SERVICE).(*storage.Service).Store()
	return nil
}

func (svc *Service) Start() error {
	if svc.storage == nil {
		return nil
	}
	stored, err := svc.storage.LoadAllReferrals()
	if err != nil {
		return fmt.Errorf("load referrals: %w", err)
	}
	svc.mu.Lock()
	for addr, rec := range stored {
		balance, ok1 := new(big.Int).SetString(rec.BalanceWei, 10)
		earned, ok2 := new(big.Int).SetString(rec.EarnedWei, 10)
		claimed, ok3 := new(big.Int).SetString(rec.ClaimedWei, 10)
		if !ok1 || !ok2 || !ok3 {
			svc.logger.Warn().Str("address", addr.Hex()).Msg("[ledger] corrupt referral record, skipping")
			continue
		}
		svc.accounts[addr] = &account{balance: balance, earned: earned, claimed: claimed}
	}
	count := len(svc.accounts)
	svc.mu.Unlock()

	svc.logger.Info().Int("accounts", count).Msg("[ledger] loaded referral accounts")
	return nil
}

func (svc *Service) Stop() error {
	return nil
}

// ProtocolFee returns the flat per-operation fee.
func (svc *Service) ProtocolFee() *big.Int {
	return new(big.Int).Set(svc.feeWei)
}

// ReferralShares splits the referral pool for a pack price across a referrer
// chain. Intermediate hops earn the relay share; the final hop takes the
// remainder of the 330bp pool. Chains longer than MaxReferralDepth are
// truncated.
func ReferralShares(priceWei *big.Int, referrers []common.Address) []*big.Int {
	if len(referrers) == 0 || priceWei == nil || priceWei.Sign() <= 0 {
		return nil
	}
	if len(referrers) > MaxReferralDepth {
		referrers = referrers[:MaxReferralDepth]
	}
	shares := make([]*big.Int, len(referrers))
	remainderBps := int64(TotalReferralBps)
	for i := 0; i < len(referrers)-1; i++ {
		shares[i] = pvcommon.BpsOf(priceWei, RelayReferralBps)
		remainderBps -= RelayReferralBps
	}
	shares[len(referrers)-1] = pvcommon.BpsOf(priceWei, remainderBps)
	return shares
}

// CreditReferrals books referral credit for a settled bundle and persists
// the touched accounts. Credits are claimable, not paid inline.
func (svc *Service) CreditReferrals(priceWei *big.Int, referrers []common.Address) error {
	shares := ReferralShares(priceWei, referrers)
	if shares == nil {
		return nil
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for i, share := range shares {
		addr := referrers[i]
		acct := svc.account(addr)
		acct.balance.Add(acct.balance, share)
		acct.earned.Add(acct.earned, share)
		metrics.ReferralCreditsWei.WithLabelValues(strconv.Itoa(i + 1)).Add(float64(share.Int64()))
		if err := svc.persist(addr, acct); err != nil {
			return err
		}
		svc.logger.Info().
			Str("referrer", addr.Hex()).
			Int("tier", i+1).
			Str("share_wei", share.String()).
			Msg("[ledger] referral credited")
	}
	return nil
}

// CollectFee forwards the protocol fee to the treasury and books the total.
func (svc *Service) CollectFee(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := svc.backend.TransferNative(ctx, svc.treasury, amount); err != nil {
		return fmt.Errorf("forward fee to treasury: %w", err)
	}
	svc.mu.Lock()
	svc.totalFees.Add(svc.totalFees, amount)
	svc.mu.Unlock()
	metrics.ProtocolFeesWei.Add(float64(amount.Int64()))
	return nil
}

// TotalFees returns the fees collected since start.
func (svc *Service) TotalFees() *big.Int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return new(big.Int).Set(svc.totalFees)
}

// Balance reports a referrer's claimable, lifetime-earned and claimed wei.
func (svc *Service) Balance(addr common.Address) (balance, earned, claimed *big.Int) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	acct, ok := svc.accounts[addr]
	if !ok {
		return new(big.Int), new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(acct.balance), new(big.Int).Set(acct.earned), new(big.Int).Set(acct.claimed)
}

// Claim pays a referrer's full claimable balance out in native currency.
func (svc *Service) Claim(ctx context.Context, addr common.Address) (*big.Int, error) {
	svc.mu.Lock()
	acct, ok := svc.accounts[addr]
	if !ok || acct.balance.Sign() == 0 {
		svc.mu.Unlock()
		metrics.ReferralClaims.WithLabelValues("empty").Inc()
		return nil, ErrNothingToClaim
	}
	payout := new(big.Int).Set(acct.balance)
	svc.mu.Unlock()

	if err := svc.backend.TransferNative(ctx, addr, payout); err != nil {
		metrics.ReferralClaims.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("pay referral claim: %w", err)
	}

	svc.mu.Lock()
	acct.balance.Sub(acct.balance, payout)
	acct.claimed.Add(acct.claimed, payout)
	err := svc.persist(addr, acct)
	svc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	metrics.ReferralClaims.WithLabelValues("paid").Inc()
	svc.logger.Info().
		Str("referrer", addr.Hex()).
		Str("payout_wei", payout.String()).
		Msg("[ledger] referral claim paid")
	return payout, nil
}

// account returns the account for addr, creating it when absent. Callers
// hold the lock.
func (svc *Service) account(addr common.Address) *account {
	acct, ok := svc.accounts[addr]
	if !ok {
		acct = &account{balance: new(big.Int), earned: new(big.Int), claimed: new(big.Int)}
		svc.accounts[addr] = acct
	}
	return acct
}

func (svc *Service) persist(addr common.Address, acct *account) error {
	if svc.storage == nil {
		return nil
	}
	if err := svc.storage.SaveReferral(addr, acct.balance, acct.earned, acct.claimed); err != nil {
		return fmt.Errorf("persist referral account: %w", err)
	}
	return nil
}
