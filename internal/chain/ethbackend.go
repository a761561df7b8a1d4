package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

const (
	receiptPollInterval = 500 * time.Millisecond
	receiptWaitTimeout  = 90 * time.Second

	// Margin applied on top of estimated gas.
	gasLimitBumpBps = 2000
)

// EthBackend executes operations against a live EVM node through a signing
// operator key. State-mutating calls are simulated first so callers get
// return data, then submitted and awaited.
type EthBackend struct {
	client  *ethclient.Client
	raw     *rpc.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	// Serializes nonce use; the engine is the only signer for this key.
	sendMu sync.Mutex

	// Dev-node snapshot support, probed once.
	snapOnce sync.Once
	snapOK   bool
}

func NewEthBackend(ctx context.Context, rpcURL, operatorKeyHex string) (*EthBackend, error) {
	raw, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	client := ethclient.NewClient(raw)

	key, err := crypto.HexToECDSA(operatorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	return &EthBackend{
		client:  client,
		raw:     raw,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (b *EthBackend) Operator() common.Address { return b.from }

func (b *EthBackend) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

func (b *EthBackend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{
		From: b.from,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (b *EthBackend) Execute(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	msg := ethereum.CallMsg{From: b.from, To: &to, Value: value, Data: data}

	// Simulate first: surfaces reverts before spending gas and captures the
	// return data a receipt cannot provide.
	ret, err := b.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutionReverted, to.Hex(), err)
	}

	gas, err := b.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", to.Hex(), err)
	}
	gas += gas * gasLimitBumpBps / 10_000

	nonce, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	tipCap, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip cap: %w", err)
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	// feeCap = tip + 2*baseFee, saturating instead of growing past 256 bits
	// on a malicious header.
	baseFee, _ := uint256.FromBig(head.BaseFee)
	tip, _ := uint256.FromBig(tipCap)
	fee := new(uint256.Int).Lsh(baseFee, 1)
	fee.Add(fee, tip)
	feeCap := fee.ToBig()

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := b.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrExecutionReverted, signed.Hash().Hex())
	}
	return ret, nil
}

func (b *EthBackend) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await tx %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *EthBackend) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	out, err := b.Call(ctx, token, PackBalanceOf(holder))
	if err != nil {
		return nil, err
	}
	return UnpackUint256(out)
}

func (b *EthBackend) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return b.client.BalanceAt(ctx, addr, nil)
}

// Collect verifies an attached payment rather than pulling it; native funds
// cannot be debited from a third party. The payer is expected to have paid
// the operator before the operation is accepted, so the check here is that
// the operator can cover the amount.
func (b *EthBackend) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	bal, err := b.NativeBalance(ctx, b.from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: payment %s from %s not covered", ErrInsufficientBalance, amount, from.Hex())
	}
	return nil
}

func (b *EthBackend) TransferNative(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	_, err := b.Execute(ctx, to, amount, nil)
	return err
}

// Snapshot uses the dev-node evm_snapshot method when the node offers it.
// Production nodes do not; atomicity there comes from the settlement
// transaction boundary and the engine treats ErrSnapshotUnsupported as
// non-fatal.
func (b *EthBackend) Snapshot(ctx context.Context) (uint64, error) {
	b.snapOnce.Do(func() {
		var id string
		b.snapOK = b.raw.CallContext(ctx, &id, "evm_snapshot") == nil
		if b.snapOK {
			var ok bool
			b.snapOK = b.raw.CallContext(ctx, &ok, "evm_revert", id) == nil && ok
		}
	})
	if !b.snapOK {
		return 0, ErrSnapshotUnsupported
	}
	var id string
	if err := b.raw.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return 0, fmt.Errorf("evm_snapshot: %w", err)
	}
	var n big.Int
	if _, ok := n.SetString(id, 0); !ok {
		return 0, fmt.Errorf("evm_snapshot: bad id %q", id)
	}
	return n.Uint64(), nil
}

func (b *EthBackend) RevertToSnapshot(ctx context.Context, id uint64) error {
	var ok bool
	if err := b.raw.CallContext(ctx, &ok, "evm_revert", fmt.Sprintf("0x%x", id)); err != nil {
		return fmt.Errorf("evm_revert: %w", err)
	}
	if !ok {
		return fmt.Errorf("evm_revert: snapshot %d not found", id)
	}
	return nil
}

func (b *EthBackend) Close() {
	b.raw.Close()
}
