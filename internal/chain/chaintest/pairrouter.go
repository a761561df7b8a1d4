package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
)

var (
	routeComponents = []abi.ArgumentMarshaling{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "stable", Type: "bool"},
	}
	typeRouteSlice = chain.MustTupleSliceType(routeComponents)

	selSwapV2      = selector("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)")
	selSwapRoutes  = selector("swapExactTokensForTokens(uint256,uint256,(address,address,bool)[],address,uint256)")
	selAddLiqV2    = selector("addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)")
	selAddLiqVelo  = selector("addLiquidity(address,address,bool,uint256,uint256,uint256,uint256,address,uint256)")
	selRemLiqV2    = selector("removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)")
	selRemLiqVelo  = selector("removeLiquidity(address,address,bool,uint256,uint256,uint256,address,uint256)")
	selAmountsPath = selector("getAmountsOut(uint256,address[])")
	selAmountsRts  = selector("getAmountsOut(uint256,(address,address,bool)[])")
)

type pairKey struct {
	token0, token1 common.Address
	stable         bool
}

type pairPool struct {
	lpToken  common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	lpSupply *big.Int
}

func (p *pairPool) clone() *pairPool {
	return &pairPool{
		lpToken:  p.lpToken,
		reserve0: new(big.Int).Set(p.reserve0),
		reserve1: new(big.Int).Set(p.reserve1),
		lpSupply: new(big.Int).Set(p.lpSupply),
	}
}

// PairRouter is a constant-product AMM answering both the plain-pair and the
// route-tuple swap signatures, so it can stand in for either venue flavor.
// A 30bp fee is taken on swap input.
type PairRouter struct {
	Addr  common.Address
	pools map[pairKey]*pairPool
}

func NewPairRouter(b *Backend, addr common.Address) *PairRouter {
	r := &PairRouter{Addr: addr, pools: make(map[pairKey]*pairPool)}
	b.RegisterContract(addr, r)
	return r
}

// AddPool seeds a pool. Reserves are owned by the router; the LP token must
// be a registered Token so holders can be balance-checked.
func (r *PairRouter) AddPool(b *Backend, tokenA, tokenB common.Address, stable bool, lpToken common.Address, reserveA, reserveB *big.Int) {
	key, flip := r.key(tokenA, tokenB, stable)
	r0, r1 := reserveA, reserveB
	if flip {
		r0, r1 = reserveB, reserveA
	}
	supply := new(big.Int).Add(r0, r1)
	r.pools[key] = &pairPool{
		lpToken:  lpToken,
		reserve0: new(big.Int).Set(r0),
		reserve1: new(big.Int).Set(r1),
		lpSupply: supply,
	}
	b.SetToken(key.token0, r.Addr, r0)
	b.SetToken(key.token1, r.Addr, r1)
}

func (r *PairRouter) key(a, c common.Address, stable bool) (pairKey, bool) {
	if a.Cmp(c) < 0 {
		return pairKey{token0: a, token1: c, stable: stable}, false
	}
	return pairKey{token0: c, token1: a, stable: stable}, true
}

func (r *PairRouter) snapshot() interface{} {
	cp := make(map[pairKey]*pairPool, len(r.pools))
	for k, p := range r.pools {
		cp[k] = p.clone()
	}
	return cp
}

func (r *PairRouter) restore(saved interface{}) {
	src := saved.(map[pairKey]*pairPool)
	r.pools = make(map[pairKey]*pairPool, len(src))
	for k, p := range src {
		r.pools[k] = p.clone()
	}
}

func (r *PairRouter) Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	args := input[4:]
	switch sel(input) {
	case selSwapV2:
		out, err := abi.Arguments{
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeAddressSlice}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		path := out[2].([]common.Address)
		hops := make([]hop, 0, len(path)-1)
		for i := 0; i+1 < len(path); i++ {
			hops = append(hops, hop{from: path[i], to: path[i+1]})
		}
		return nil, r.swap(b, caller, out[0].(*big.Int), out[1].(*big.Int), hops, out[3].(common.Address))

	case selSwapRoutes:
		out, err := abi.Arguments{
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: typeRouteSlice}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		routes := out[2].([]struct {
			From   common.Address `json:"from"`
			To     common.Address `json:"to"`
			Stable bool           `json:"stable"`
		})
		hops := make([]hop, 0, len(routes))
		for _, rt := range routes {
			hops = append(hops, hop{from: rt.From, to: rt.To, stable: rt.Stable})
		}
		return nil, r.swap(b, caller, out[0].(*big.Int), out[1].(*big.Int), hops, out[3].(common.Address))

	case selAddLiqV2:
		out, err := abi.Arguments{
			{Type: chain.TypeAddress}, {Type: chain.TypeAddress},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		return nil, r.addLiquidity(b, caller,
			out[0].(common.Address), out[1].(common.Address), false,
			out[2].(*big.Int), out[3].(*big.Int), out[6].(common.Address))

	case selAddLiqVelo:
		out, err := abi.Arguments{
			{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeBool},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		return nil, r.addLiquidity(b, caller,
			out[0].(common.Address), out[1].(common.Address), out[2].(bool),
			out[3].(*big.Int), out[4].(*big.Int), out[7].(common.Address))

	case selRemLiqV2:
		out, err := abi.Arguments{
			{Type: chain.TypeAddress}, {Type: chain.TypeAddress},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		return nil, r.removeLiquidity(b, caller,
			out[0].(common.Address), out[1].(common.Address), false,
			out[2].(*big.Int), out[5].(common.Address))

	case selRemLiqVelo:
		out, err := abi.Arguments{
			{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeBool},
			{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
			{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		return nil, r.removeLiquidity(b, caller,
			out[0].(common.Address), out[1].(common.Address), out[2].(bool),
			out[3].(*big.Int), out[6].(common.Address))

	case selAmountsPath:
		out, err := abi.Arguments{
			{Type: chain.TypeUint256}, {Type: chain.TypeAddressSlice},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		path := out[1].([]common.Address)
		hops := make([]hop, 0, len(path)-1)
		for i := 0; i+1 < len(path); i++ {
			hops = append(hops, hop{from: path[i], to: path[i+1]})
		}
		return r.quote(out[0].(*big.Int), hops)

	case selAmountsRts:
		out, err := abi.Arguments{
			{Type: chain.TypeUint256}, {Type: typeRouteSlice},
		}.Unpack(args)
		if err != nil {
			return nil, err
		}
		routes := out[1].([]struct {
			From   common.Address `json:"from"`
			To     common.Address `json:"to"`
			Stable bool           `json:"stable"`
		})
		hops := make([]hop, 0, len(routes))
		for _, rt := range routes {
			hops = append(hops, hop{from: rt.From, to: rt.To, stable: rt.Stable})
		}
		return r.quote(out[0].(*big.Int), hops)

	default:
		return nil, fmt.Errorf("pair router: unknown selector %x", input[:4])
	}
}

// quote walks the hops against current reserves without mutating them.
func (r *PairRouter) quote(amountIn *big.Int, hops []hop) ([]byte, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("empty route")
	}
	amounts := make([]*big.Int, 0, len(hops)+1)
	amounts = append(amounts, new(big.Int).Set(amountIn))
	amount := new(big.Int).Set(amountIn)
	for _, h := range hops {
		key, flip := r.key(h.from, h.to, h.stable)
		pool, ok := r.pools[key]
		if !ok {
			return nil, fmt.Errorf("no pool %s/%s", h.from.Hex(), h.to.Hex())
		}
		rIn, rOut := pool.reserve0, pool.reserve1
		if flip {
			rIn, rOut = pool.reserve1, pool.reserve0
		}
		amount = cpAmountOut(amount, rIn, rOut)
		amounts = append(amounts, amount)
	}
	return abi.Arguments{{Type: chain.TypeUint256Slice}}.Pack(amounts)
}

type hop struct {
	from, to common.Address
	stable   bool
}

func (r *PairRouter) swap(b *Backend, caller common.Address, amountIn, minOut *big.Int, hops []hop, to common.Address) error {
	if len(hops) == 0 {
		return fmt.Errorf("empty route")
	}
	amount := new(big.Int).Set(amountIn)
	if err := b.moveToken(hops[0].from, caller, r.Addr, amount); err != nil {
		return err
	}
	for _, h := range hops {
		key, flip := r.key(h.from, h.to, h.stable)
		pool, ok := r.pools[key]
		if !ok {
			return fmt.Errorf("no pool %s/%s", h.from.Hex(), h.to.Hex())
		}
		rIn, rOut := pool.reserve0, pool.reserve1
		if flip {
			rIn, rOut = pool.reserve1, pool.reserve0
		}
		out := cpAmountOut(amount, rIn, rOut)
		rIn.Add(rIn, amount)
		rOut.Sub(rOut, out)
		amount = out
	}
	if amount.Cmp(minOut) < 0 {
		return fmt.Errorf("insufficient output: %s < %s", amount, minOut)
	}
	return b.moveToken(hops[len(hops)-1].to, r.Addr, to, amount)
}

func (r *PairRouter) addLiquidity(b *Backend, caller common.Address, tokenA, tokenB common.Address, stable bool, amountA, amountB *big.Int, to common.Address) error {
	key, flip := r.key(tokenA, tokenB, stable)
	pool, ok := r.pools[key]
	if !ok {
		return fmt.Errorf("no pool %s/%s", tokenA.Hex(), tokenB.Hex())
	}
	a0, a1 := amountA, amountB
	if flip {
		a0, a1 = amountB, amountA
	}
	// Deposit at pool ratio: cap the side that is over-supplied.
	if pool.reserve0.Sign() > 0 && pool.reserve1.Sign() > 0 {
		optimal1 := mulDiv(a0, pool.reserve1, pool.reserve0)
		if optimal1.Cmp(a1) > 0 {
			a0 = mulDiv(a1, pool.reserve0, pool.reserve1)
		} else {
			a1 = optimal1
		}
	}
	if err := b.moveToken(key.token0, caller, r.Addr, a0); err != nil {
		return err
	}
	if err := b.moveToken(key.token1, caller, r.Addr, a1); err != nil {
		return err
	}
	var minted *big.Int
	if pool.lpSupply.Sign() == 0 || pool.reserve0.Sign() == 0 {
		minted = new(big.Int).Add(a0, a1)
	} else {
		minted = mulDiv(pool.lpSupply, a0, pool.reserve0)
	}
	pool.reserve0.Add(pool.reserve0, a0)
	pool.reserve1.Add(pool.reserve1, a1)
	pool.lpSupply.Add(pool.lpSupply, minted)
	b.creditToken(pool.lpToken, to, minted)
	return nil
}

func (r *PairRouter) removeLiquidity(b *Backend, caller common.Address, tokenA, tokenB common.Address, stable bool, liquidity *big.Int, to common.Address) error {
	key, _ := r.key(tokenA, tokenB, stable)
	pool, ok := r.pools[key]
	if !ok {
		return fmt.Errorf("no pool %s/%s", tokenA.Hex(), tokenB.Hex())
	}
	if pool.lpSupply.Sign() == 0 {
		return fmt.Errorf("empty pool")
	}
	if err := b.debitToken(pool.lpToken, caller, liquidity); err != nil {
		return err
	}
	out0 := mulDiv(pool.reserve0, liquidity, pool.lpSupply)
	out1 := mulDiv(pool.reserve1, liquidity, pool.lpSupply)
	pool.reserve0.Sub(pool.reserve0, out0)
	pool.reserve1.Sub(pool.reserve1, out1)
	pool.lpSupply.Sub(pool.lpSupply, liquidity)
	if err := b.moveToken(key.token0, r.Addr, to, out0); err != nil {
		return err
	}
	return b.moveToken(key.token1, r.Addr, to, out1)
}

func cpAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), inWithFee)
	return num.Div(num, den)
}

func mulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, c)
}
