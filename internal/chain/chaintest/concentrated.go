package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
)

var (
	typeExactInputSingle = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "limitSqrtPrice", Type: "uint160"},
	})
	typeMintParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "token0", Type: "address"},
		{Name: "token1", Type: "address"},
		{Name: "tickLower", Type: "int24"},
		{Name: "tickUpper", Type: "int24"},
		{Name: "amount0Desired", Type: "uint256"},
		{Name: "amount1Desired", Type: "uint256"},
		{Name: "amount0Min", Type: "uint256"},
		{Name: "amount1Min", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
	})
	typeDecreaseParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "liquidity", Type: "uint128"},
		{Name: "amount0Min", Type: "uint256"},
		{Name: "amount1Min", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	})
	typeCollectParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "amount0Max", Type: "uint128"},
		{Name: "amount1Max", Type: "uint128"},
	})

	selExactInputSingle = selector("exactInputSingle((address,address,address,uint256,uint256,uint256,uint160))")
	selMint             = selector("mint((address,address,int24,int24,uint256,uint256,uint256,uint256,address,uint256))")
	selDecrease         = selector("decreaseLiquidity((uint256,uint128,uint256,uint256,uint256))")
	selCollect          = selector("collect((uint256,address,uint128,uint128))")
	selBurn             = selector("burn(uint256)")
	selOwnerOf          = selector("ownerOf(uint256)")
)

// ConcentratedRouter fakes a single-hop concentrated-liquidity swap venue.
// Tick ranges are not modeled; pricing is constant-product over seeded
// reserves.
type ConcentratedRouter struct {
	Addr  common.Address
	pools map[pairKey]*pairPool
}

func NewConcentratedRouter(b *Backend, addr common.Address) *ConcentratedRouter {
	r := &ConcentratedRouter{Addr: addr, pools: make(map[pairKey]*pairPool)}
	b.RegisterContract(addr, r)
	return r
}

func (r *ConcentratedRouter) AddPool(b *Backend, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	key, flip := pairKeyOf(tokenA, tokenB)
	r0, r1 := reserveA, reserveB
	if flip {
		r0, r1 = reserveB, reserveA
	}
	r.pools[key] = &pairPool{
		reserve0: new(big.Int).Set(r0),
		reserve1: new(big.Int).Set(r1),
		lpSupply: new(big.Int),
	}
	b.SetToken(key.token0, r.Addr, r0)
	b.SetToken(key.token1, r.Addr, r1)
}

func pairKeyOf(a, b common.Address) (pairKey, bool) {
	if a.Cmp(b) < 0 {
		return pairKey{token0: a, token1: b}, false
	}
	return pairKey{token0: b, token1: a}, true
}

func (r *ConcentratedRouter) snapshot() interface{} {
	cp := make(map[pairKey]*pairPool, len(r.pools))
	for k, p := range r.pools {
		cp[k] = p.clone()
	}
	return cp
}

func (r *ConcentratedRouter) restore(saved interface{}) {
	src := saved.(map[pairKey]*pairPool)
	r.pools = make(map[pairKey]*pairPool, len(src))
	for k, p := range src {
		r.pools[k] = p.clone()
	}
}

func (r *ConcentratedRouter) Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) < 4 || sel(input) != selExactInputSingle {
		return nil, fmt.Errorf("concentrated router: unknown selector")
	}
	out, err := abi.Arguments{{Type: typeExactInputSingle}}.Unpack(input[4:])
	if err != nil {
		return nil, err
	}
	p := out[0].(struct {
		TokenIn          common.Address `json:"tokenIn"`
		TokenOut         common.Address `json:"tokenOut"`
		Recipient        common.Address `json:"recipient"`
		Deadline         *big.Int       `json:"deadline"`
		AmountIn         *big.Int       `json:"amountIn"`
		AmountOutMinimum *big.Int       `json:"amountOutMinimum"`
		LimitSqrtPrice   *big.Int       `json:"limitSqrtPrice"`
	})
	key, flip := pairKeyOf(p.TokenIn, p.TokenOut)
	pool, ok := r.pools[key]
	if !ok {
		return nil, fmt.Errorf("no pool %s/%s", p.TokenIn.Hex(), p.TokenOut.Hex())
	}
	if err := b.moveToken(p.TokenIn, caller, r.Addr, p.AmountIn); err != nil {
		return nil, err
	}
	rIn, rOut := pool.reserve0, pool.reserve1
	if flip {
		rIn, rOut = pool.reserve1, pool.reserve0
	}
	amountOut := cpAmountOut(p.AmountIn, rIn, rOut)
	if amountOut.Cmp(p.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("insufficient output: %s < %s", amountOut, p.AmountOutMinimum)
	}
	rIn.Add(rIn, p.AmountIn)
	rOut.Sub(rOut, amountOut)
	if err := b.moveToken(p.TokenOut, r.Addr, p.Recipient, amountOut); err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: chain.TypeUint256}}.Pack(amountOut)
}

type nftPosition struct {
	owner          common.Address
	token0, token1 common.Address
	amount0        *big.Int
	amount1        *big.Int
	liquidity      *big.Int
	owed0, owed1   *big.Int
}

func (p *nftPosition) clone() *nftPosition {
	return &nftPosition{
		owner: p.owner, token0: p.token0, token1: p.token1,
		amount0: new(big.Int).Set(p.amount0), amount1: new(big.Int).Set(p.amount1),
		liquidity: new(big.Int).Set(p.liquidity),
		owed0:     new(big.Int).Set(p.owed0), owed1: new(big.Int).Set(p.owed1),
	}
}

// PositionManager fakes the NFT position manager paired with the
// concentrated router. Minted positions custody the deposited tokens
// themselves; decrease books amounts owed and collect pays them out.
type PositionManager struct {
	Addr      common.Address
	nextID    uint64
	positions map[uint64]*nftPosition
}

func NewPositionManager(b *Backend, addr common.Address) *PositionManager {
	m := &PositionManager{Addr: addr, nextID: 1, positions: make(map[uint64]*nftPosition)}
	b.RegisterContract(addr, m)
	return m
}

type pmState struct {
	nextID    uint64
	positions map[uint64]*nftPosition
}

func (m *PositionManager) snapshot() interface{} {
	cp := make(map[uint64]*nftPosition, len(m.positions))
	for id, p := range m.positions {
		cp[id] = p.clone()
	}
	return pmState{nextID: m.nextID, positions: cp}
}

func (m *PositionManager) restore(saved interface{}) {
	st := saved.(pmState)
	m.nextID = st.nextID
	m.positions = make(map[uint64]*nftPosition, len(st.positions))
	for id, p := range st.positions {
		m.positions[id] = p.clone()
	}
}

func (m *PositionManager) Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	args := input[4:]
	switch sel(input) {
	case selMint:
		out, err := abi.Arguments{{Type: typeMintParams}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		p := out[0].(struct {
			Token0         common.Address `json:"token0"`
			Token1         common.Address `json:"token1"`
			TickLower      *big.Int       `json:"tickLower"`
			TickUpper      *big.Int       `json:"tickUpper"`
			Amount0Desired *big.Int       `json:"amount0Desired"`
			Amount1Desired *big.Int       `json:"amount1Desired"`
			Amount0Min     *big.Int       `json:"amount0Min"`
			Amount1Min     *big.Int       `json:"amount1Min"`
			Recipient      common.Address `json:"recipient"`
			Deadline       *big.Int       `json:"deadline"`
		})
		if p.Token0.Cmp(p.Token1) >= 0 {
			return nil, fmt.Errorf("tokens not ordered")
		}
		if err := b.moveToken(p.Token0, caller, m.Addr, p.Amount0Desired); err != nil {
			return nil, err
		}
		if err := b.moveToken(p.Token1, caller, m.Addr, p.Amount1Desired); err != nil {
			return nil, err
		}
		id := m.nextID
		m.nextID++
		liquidity := new(big.Int).Add(p.Amount0Desired, p.Amount1Desired)
		m.positions[id] = &nftPosition{
			owner: p.Recipient, token0: p.Token0, token1: p.Token1,
			amount0: new(big.Int).Set(p.Amount0Desired), amount1: new(big.Int).Set(p.Amount1Desired),
			liquidity: liquidity,
			owed0:     new(big.Int), owed1: new(big.Int),
		}
		return abi.Arguments{
			{Type: chain.TypeUint256}, {Type: chain.TypeUint128},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		}.Pack(new(big.Int).SetUint64(id), liquidity, p.Amount0Desired, p.Amount1Desired)

	case selDecrease:
		out, err := abi.Arguments{{Type: typeDecreaseParams}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		p := out[0].(struct {
			TokenId    *big.Int `json:"tokenId"`
			Liquidity  *big.Int `json:"liquidity"`
			Amount0Min *big.Int `json:"amount0Min"`
			Amount1Min *big.Int `json:"amount1Min"`
			Deadline   *big.Int `json:"deadline"`
		})
		pos, ok := m.positions[p.TokenId.Uint64()]
		if !ok {
			return nil, fmt.Errorf("unknown position %s", p.TokenId)
		}
		if p.Liquidity.Cmp(pos.liquidity) > 0 {
			return nil, fmt.Errorf("liquidity exceeds position")
		}
		out0 := mulDiv(pos.amount0, p.Liquidity, pos.liquidity)
		out1 := mulDiv(pos.amount1, p.Liquidity, pos.liquidity)
		pos.amount0.Sub(pos.amount0, out0)
		pos.amount1.Sub(pos.amount1, out1)
		pos.liquidity.Sub(pos.liquidity, p.Liquidity)
		pos.owed0.Add(pos.owed0, out0)
		pos.owed1.Add(pos.owed1, out1)
		return abi.Arguments{{Type: chain.TypeUint256}, {Type: chain.TypeUint256}}.Pack(out0, out1)

	case selCollect:
		out, err := abi.Arguments{{Type: typeCollectParams}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		p := out[0].(struct {
			TokenId    *big.Int       `json:"tokenId"`
			Recipient  common.Address `json:"recipient"`
			Amount0Max *big.Int       `json:"amount0Max"`
			Amount1Max *big.Int       `json:"amount1Max"`
		})
		pos, ok := m.positions[p.TokenId.Uint64()]
		if !ok {
			return nil, fmt.Errorf("unknown position %s", p.TokenId)
		}
		out0 := bigMin(pos.owed0, p.Amount0Max)
		out1 := bigMin(pos.owed1, p.Amount1Max)
		pos.owed0.Sub(pos.owed0, out0)
		pos.owed1.Sub(pos.owed1, out1)
		if err := b.moveToken(pos.token0, m.Addr, p.Recipient, out0); err != nil {
			return nil, err
		}
		if err := b.moveToken(pos.token1, m.Addr, p.Recipient, out1); err != nil {
			return nil, err
		}
		return abi.Arguments{{Type: chain.TypeUint256}, {Type: chain.TypeUint256}}.Pack(out0, out1)

	case selBurn:
		out, err := abi.Arguments{{Type: chain.TypeUint256}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		id := out[0].(*big.Int).Uint64()
		pos, ok := m.positions[id]
		if !ok {
			return nil, fmt.Errorf("unknown position %d", id)
		}
		if pos.liquidity.Sign() != 0 || pos.owed0.Sign() != 0 || pos.owed1.Sign() != 0 {
			return nil, fmt.Errorf("position %d not empty", id)
		}
		delete(m.positions, id)
		return nil, nil

	case selOwnerOf:
		out, err := abi.Arguments{{Type: chain.TypeUint256}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		pos, ok := m.positions[out[0].(*big.Int).Uint64()]
		if !ok {
			return nil, fmt.Errorf("unknown position")
		}
		return abi.Arguments{{Type: chain.TypeAddress}}.Pack(pos.owner)

	default:
		return nil, fmt.Errorf("position manager: unknown selector %x", input[:4])
	}
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
