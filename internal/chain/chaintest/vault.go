package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
)

var (
	selVaultSwap = selector("swap(bytes32,address,address,uint256,uint256)")
	selJoinPool  = selector("joinPool(bytes32,address,address,uint256,uint256,uint256)")
	selExitPool  = selector("exitPool(bytes32,uint256,uint256,uint256)")
)

type vaultPool struct {
	token0, token1 common.Address
	bptToken       common.Address
	reserve0       *big.Int
	reserve1       *big.Int
	bptSupply      *big.Int
}

func (p *vaultPool) clone() *vaultPool {
	return &vaultPool{
		token0: p.token0, token1: p.token1, bptToken: p.bptToken,
		reserve0:  new(big.Int).Set(p.reserve0),
		reserve1:  new(big.Int).Set(p.reserve1),
		bptSupply: new(big.Int).Set(p.bptSupply),
	}
}

// VaultRouter fakes a pooled-vault venue addressed by 32-byte pool ids.
// Weights are not modeled; joins and exits are proportional and swaps use
// constant-product pricing.
type VaultRouter struct {
	Addr  common.Address
	pools map[common.Hash]*vaultPool
}

func NewVaultRouter(b *Backend, addr common.Address) *VaultRouter {
	r := &VaultRouter{Addr: addr, pools: make(map[common.Hash]*vaultPool)}
	b.RegisterContract(addr, r)
	return r
}

func (r *VaultRouter) AddPool(b *Backend, poolID common.Hash, token0, token1, bptToken common.Address, reserve0, reserve1 *big.Int) {
	r.pools[poolID] = &vaultPool{
		token0: token0, token1: token1, bptToken: bptToken,
		reserve0:  new(big.Int).Set(reserve0),
		reserve1:  new(big.Int).Set(reserve1),
		bptSupply: new(big.Int).Add(reserve0, reserve1),
	}
	b.SetToken(token0, r.Addr, reserve0)
	b.SetToken(token1, r.Addr, reserve1)
}

func (r *VaultRouter) snapshot() interface{} {
	cp := make(map[common.Hash]*vaultPool, len(r.pools))
	for id, p := range r.pools {
		cp[id] = p.clone()
	}
	return cp
}

func (r *VaultRouter) restore(saved interface{}) {
	src := saved.(map[common.Hash]*vaultPool)
	r.pools = make(map[common.Hash]*vaultPool, len(src))
	for id, p := range src {
		r.pools[id] = p.clone()
	}
}

func (r *VaultRouter) Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	args := input[4:]
	switch sel(input) {
	case selVaultSwap:
		out, err := abi.Arguments{
			{Type: chain.TypeBytes32}, {Type: chain.TypeAddress}, {Type: chain.TypeAddress},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		poolID := common.Hash(out[0].([32]byte))
		assetIn, assetOut := out[1].(common.Address), out[2].(common.Address)
		amountIn, minOut := out[3].(*big.Int), out[4].(*big.Int)

		pool, ok := r.pools[poolID]
		if !ok {
			return nil, fmt.Errorf("unknown pool %s", poolID.Hex())
		}
		rIn, rOut := pool.reserve0, pool.reserve1
		tokenOut := pool.token1
		switch {
		case assetIn == pool.token0 && assetOut == pool.token1:
		case assetIn == pool.token1 && assetOut == pool.token0:
			rIn, rOut = pool.reserve1, pool.reserve0
			tokenOut = pool.token0
		default:
			return nil, fmt.Errorf("assets not in pool %s", poolID.Hex())
		}
		if err := b.moveToken(assetIn, caller, r.Addr, amountIn); err != nil {
			return nil, err
		}
		amountOut := cpAmountOut(amountIn, rIn, rOut)
		if amountOut.Cmp(minOut) < 0 {
			return nil, fmt.Errorf("insufficient output: %s < %s", amountOut, minOut)
		}
		rIn.Add(rIn, amountIn)
		rOut.Sub(rOut, amountOut)
		if err := b.moveToken(tokenOut, r.Addr, caller, amountOut); err != nil {
			return nil, err
		}
		return abi.Arguments{{Type: chain.TypeUint256}}.Pack(amountOut)

	case selJoinPool:
		out, err := abi.Arguments{
			{Type: chain.TypeBytes32}, {Type: chain.TypeAddress}, {Type: chain.TypeAddress},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		poolID := common.Hash(out[0].([32]byte))
		pool, ok := r.pools[poolID]
		if !ok {
			return nil, fmt.Errorf("unknown pool %s", poolID.Hex())
		}
		if out[1].(common.Address) != pool.token0 || out[2].(common.Address) != pool.token1 {
			return nil, fmt.Errorf("assets not in pool %s", poolID.Hex())
		}
		a0, a1, minBpt := out[3].(*big.Int), out[4].(*big.Int), out[5].(*big.Int)
		if err := b.moveToken(pool.token0, caller, r.Addr, a0); err != nil {
			return nil, err
		}
		if err := b.moveToken(pool.token1, caller, r.Addr, a1); err != nil {
			return nil, err
		}
		minted := new(big.Int).Add(a0, a1)
		if pool.reserve0.Sign() > 0 {
			minted = mulDiv(pool.bptSupply, a0, pool.reserve0)
		}
		if minted.Cmp(minBpt) < 0 {
			return nil, fmt.Errorf("insufficient bpt: %s < %s", minted, minBpt)
		}
		pool.reserve0.Add(pool.reserve0, a0)
		pool.reserve1.Add(pool.reserve1, a1)
		pool.bptSupply.Add(pool.bptSupply, minted)
		b.creditToken(pool.bptToken, caller, minted)
		return abi.Arguments{{Type: chain.TypeUint256}}.Pack(minted)

	case selExitPool:
		out, err := abi.Arguments{
			{Type: chain.TypeBytes32}, {Type: chain.TypeUint256},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		poolID := common.Hash(out[0].([32]byte))
		pool, ok := r.pools[poolID]
		if !ok {
			return nil, fmt.Errorf("unknown pool %s", poolID.Hex())
		}
		bptIn := out[1].(*big.Int)
		if pool.bptSupply.Sign() == 0 {
			return nil, fmt.Errorf("empty pool %s", poolID.Hex())
		}
		if err := b.debitToken(pool.bptToken, caller, bptIn); err != nil {
			return nil, err
		}
		out0 := mulDiv(pool.reserve0, bptIn, pool.bptSupply)
		out1 := mulDiv(pool.reserve1, bptIn, pool.bptSupply)
		if out0.Cmp(out[2].(*big.Int)) < 0 || out1.Cmp(out[3].(*big.Int)) < 0 {
			return nil, fmt.Errorf("insufficient exit output")
		}
		pool.reserve0.Sub(pool.reserve0, out0)
		pool.reserve1.Sub(pool.reserve1, out1)
		pool.bptSupply.Sub(pool.bptSupply, bptIn)
		if err := b.moveToken(pool.token0, r.Addr, caller, out0); err != nil {
			return nil, err
		}
		if err := b.moveToken(pool.token1, r.Addr, caller, out1); err != nil {
			return nil, err
		}
		return abi.Arguments{{Type: chain.TypeUint256}, {Type: chain.TypeUint256}}.Pack(out0, out1)

	default:
		return nil, fmt.Errorf("vault router: unknown selector %x", input[:4])
	}
}
