// Package custody wraps the on-chain deposit vault packs settle into. Every
// asset a pack holds is energized into the vault against the pack NFT, and
// released from it on teardown.
package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/chain"
	pvcommon "github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/services"
	"github.com/packlabs/packvault/internal/services/chainsvc"
)

const CUSTODY_SERVICE = "custody-service"

// basketManagerID selects the vault's NFT basket implementation.
const basketManagerID = "generic.B"

var (
	argsEnergize = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeString},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeAddress},
	}
	argsRelease = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		{Type: chain.TypeString}, {Type: chain.TypeAddress},
	}
	argsReleaseAmount = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		{Type: chain.TypeString}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
	argsBond = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeString},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}
	argsBreakBond = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		{Type: chain.TypeString}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}
	argsMass = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeString}, {Type: chain.TypeAddress},
	}
	argsTimelock = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}
	argsMintToken = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeString},
	}
	argsOwnerOf = abi.Arguments{{Type: chain.TypeUint256}}
)

const (
	sigEnergize      = "energizeParticle(address,uint256,string,address,uint256,address)"
	sigRelease       = "releaseParticle(address,address,uint256,string,address)"
	sigReleaseAmount = "releaseParticleAmount(address,address,uint256,string,address,uint256)"
	sigBond          = "covalentBond(address,uint256,string,address,uint256,uint256)"
	sigBreakBond     = "breakCovalentBond(address,address,uint256,string,address,uint256,uint256)"
	sigMass          = "baseParticleMass(address,uint256,string,address)"
	sigReleaseLock   = "setReleaseTimelock(address,uint256,uint256)"
	sigBondLock      = "setBreakBondTimelock(address,uint256,uint256)"
	sigMintToken     = "createBasicProton(address,address,string)"
	sigOwnerOf       = "ownerOf(uint256)"
)

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	backend    chain.Backend
	vault      common.Address
	state      common.Address
	collection common.Address
}

// New builds a standalone custody client; the DI path goes through
// Configure.
func New(backend chain.Backend, vault, state, collection common.Address) *Service {
	svc := &Service{backend: backend, vault: vault, state: state, collection: collection}
	svc.logger = services.NewServiceLogger(svc)
	return svc
}

func (svc *Service) ID() string {
	return CUSTODY_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	chainConfig := c.GetConfig(config.CHAIN_CONFIG_KEY).(*config.ChainConfig)
	svc.vault = chainConfig.CustodyVaultAddress()
	svc.state = chainConfig.CustodyStateAddress()
	svc.collection = chainConfig.PackCollectionAddress()
	svc.backend = c.Instance(chainsvc.CHAIN_SERVICE).(*chainsvc.Service).Backend()
	return nil
}

func (svc *Service) Start() error {
	return nil
}

func (svc *Service) Stop() error {
	return nil
}

func (svc *Service) Collection() common.Address {
	return svc.collection
}

// MintPackToken mints the pack NFT to the receiver and returns its token id.
func (svc *Service) MintPackToken(ctx context.Context, receiver common.Address, metadataURI string) (*big.Int, error) {
	calldata, err := chain.PackCall(sigMintToken, argsMintToken, svc.backend.Operator(), receiver, metadataURI)
	if err != nil {
		return nil, err
	}
	ret, err := svc.backend.Execute(ctx, svc.collection, nil, calldata)
	if err != nil {
		return nil, fmt.Errorf("mint pack token: %w", err)
	}
	tokenID, err := chain.UnpackUint256(ret)
	if err != nil {
		return nil, fmt.Errorf("decode minted token id: %w", err)
	}
	return tokenID, nil
}

// OwnerOf reads the current holder of a pack token.
func (svc *Service) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	calldata, err := chain.PackCall(sigOwnerOf, argsOwnerOf, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	ret, err := svc.backend.Call(ctx, svc.collection, calldata)
	if err != nil {
		return common.Address{}, fmt.Errorf("read owner of pack %s: %w", tokenID, err)
	}
	return chain.UnpackAddress(ret)
}

// Energize deposits an ERC-20 amount into the pack's vault wallet.
func (svc *Service) Energize(ctx context.Context, tokenID *big.Int, asset common.Address, amount *big.Int) error {
	calldata, err := chain.PackCall(sigEnergize, argsEnergize,
		svc.collection, tokenID, pvcommon.WalletManagerID, asset, amount, common.Address{})
	if err != nil {
		return err
	}
	if err := approveAsset(ctx, svc.backend, asset, svc.vault, amount); err != nil {
		return err
	}
	if _, err := svc.backend.Execute(ctx, svc.vault, nil, calldata); err != nil {
		return fmt.Errorf("energize %s: %w", asset.Hex(), err)
	}
	return nil
}

// Release withdraws the full balance of an asset to the receiver.
func (svc *Service) Release(ctx context.Context, receiver common.Address, tokenID *big.Int, asset common.Address) error {
	calldata, err := chain.PackCall(sigRelease, argsRelease,
		receiver, svc.collection, tokenID, pvcommon.WalletManagerID, asset)
	if err != nil {
		return err
	}
	if _, err := svc.backend.Execute(ctx, svc.vault, nil, calldata); err != nil {
		return fmt.Errorf("release %s: %w", asset.Hex(), err)
	}
	return nil
}

// ReleaseAmount withdraws part of an asset balance to the receiver.
func (svc *Service) ReleaseAmount(ctx context.Context, receiver common.Address, tokenID *big.Int, asset common.Address, amount *big.Int) error {
	calldata, err := chain.PackCall(sigReleaseAmount, argsReleaseAmount,
		receiver, svc.collection, tokenID, pvcommon.WalletManagerID, asset, amount)
	if err != nil {
		return err
	}
	if _, err := svc.backend.Execute(ctx, svc.vault, nil, calldata); err != nil {
		return fmt.Errorf("release %s amount %s: %w", asset.Hex(), amount, err)
	}
	return nil
}

// Bond deposits an NFT (position token) into the pack's basket.
func (svc *Service) Bond(ctx context.Context, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error {
	calldata, err := chain.PackCall(sigBond, argsBond,
		svc.collection, tokenID, basketManagerID, nftContract, nftTokenID, big.NewInt(1))
	if err != nil {
		return err
	}
	if _, err := svc.backend.Execute(ctx, svc.vault, nil, calldata); err != nil {
		return fmt.Errorf("bond nft %s#%s: %w", nftContract.Hex(), nftTokenID, err)
	}
	return nil
}

// BreakBond withdraws a bonded NFT to the receiver.
func (svc *Service) BreakBond(ctx context.Context, receiver common.Address, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error {
	calldata, err := chain.PackCall(sigBreakBond, argsBreakBond,
		receiver, svc.collection, tokenID, basketManagerID, nftContract, nftTokenID, big.NewInt(1))
	if err != nil {
		return err
	}
	if _, err := svc.backend.Execute(ctx, svc.vault, nil, calldata); err != nil {
		return fmt.Errorf("break bond nft %s#%s: %w", nftContract.Hex(), nftTokenID, err)
	}
	return nil
}

// Mass reads the vault balance of an asset held against the pack.
func (svc *Service) Mass(ctx context.Context, tokenID *big.Int, asset common.Address) (*big.Int, error) {
	calldata, err := chain.PackCall(sigMass, argsMass,
		svc.collection, tokenID, pvcommon.WalletManagerID, asset)
	if err != nil {
		return nil, err
	}
	ret, err := svc.backend.Call(ctx, svc.vault, calldata)
	if err != nil {
		return nil, fmt.Errorf("read mass of %s: %w", asset.Hex(), err)
	}
	return chain.UnpackUint256(ret)
}

// SetTimelocks applies release and bond-break locks on the pack. Zero
// values leave the respective lock untouched.
func (svc *Service) SetTimelocks(ctx context.Context, tokenID *big.Int, releaseBlock, bondBlock uint64) error {
	if svc.state == (common.Address{}) {
		return nil
	}
	if releaseBlock > 0 {
		calldata, err := chain.PackCall(sigReleaseLock, argsTimelock,
			svc.collection, tokenID, new(big.Int).SetUint64(releaseBlock))
		if err != nil {
			return err
		}
		if _, err := svc.backend.Execute(ctx, svc.state, nil, calldata); err != nil {
			return fmt.Errorf("set release timelock: %w", err)
		}
	}
	if bondBlock > 0 {
		calldata, err := chain.PackCall(sigBondLock, argsTimelock,
			svc.collection, tokenID, new(big.Int).SetUint64(bondBlock))
		if err != nil {
			return err
		}
		if _, err := svc.backend.Execute(ctx, svc.state, nil, calldata); err != nil {
			return fmt.Errorf("set bond timelock: %w", err)
		}
	}
	return nil
}

func approveAsset(ctx context.Context, backend chain.Backend, asset, spender common.Address, amount *big.Int) error {
	if _, err := backend.Execute(ctx, asset, nil, chain.PackApprove(spender, amount)); err != nil {
		return fmt.Errorf("approve %s for custody: %w", asset.Hex(), err)
	}
	return nil
}
