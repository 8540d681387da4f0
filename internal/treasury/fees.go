package treasury

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"ReasonChain/internal/chain"
	xerrors "ReasonChain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// feeVaultABI 是费用金库合约的最小接口：查询应收费用与发起领取。
const feeVaultABI = `[
  {"type":"function","name":"feesOwed","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"claimFees","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"}],"outputs":[]}
]`

// FeeClaimer 查询并领取费用金库中累计的协议费用。
type FeeClaimer struct {
	client   chain.Client
	contract common.Address
	owner    common.Address
	token    common.Address
	parsed   abi.ABI
	key      *ecdsa.PrivateKey
}

// FeeClaimConfig 描述费用金库合约与领取身份。
type FeeClaimConfig struct {
	Contract string
	Owner    string
	Token    string
	// PrivateKeyHex 为空时只能查询，不能发起领取交易。
	PrivateKeyHex string
}

// NewFeeClaimer 绑定费用金库合约。
func NewFeeClaimer(client chain.Client, cfg FeeClaimConfig) (*FeeClaimer, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供链客户端")
	}
	contract := strings.TrimSpace(cfg.Contract)
	if contract == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置费用金库合约地址")
	}
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置费用归属地址")
	}

	parsed, err := abi.JSON(strings.NewReader(feeVaultABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "解析费用金库 ABI 失败")
	}

	claimer := &FeeClaimer{
		client:   client,
		contract: common.HexToAddress(contract),
		owner:    common.HexToAddress(owner),
		parsed:   parsed,
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		claimer.token = common.HexToAddress(token)
	}
	if keyHex := strings.TrimSpace(cfg.PrivateKeyHex); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析领取私钥失败")
		}
		claimer.key = key
	}
	return claimer, nil
}

// CheckFees 通过 eth_call 查询当前应收费用。
func (f *FeeClaimer) CheckFees(ctx context.Context) (*big.Int, error) {
	backend := f.client.ContractBackend()
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeChainFailure, "当前链客户端不支持合约调用")
	}

	input, err := f.parsed.Pack("feesOwed", f.owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "编码费用查询失败")
	}
	output, err := backend.CallContract(ctx, gethcore.CallMsg{To: &f.contract, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询应收费用失败")
	}

	values, err := f.parsed.Unpack("feesOwed", output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "解码费用查询结果失败")
	}
	owed, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainFailure, "费用查询返回了意外的类型")
	}
	return owed, nil
}

// Claim 发起费用领取交易并返回交易哈希。
// 领取前不做余额判断，是否值得领取由上层决定。
func (f *FeeClaimer) Claim(ctx context.Context) (string, error) {
	if f.key == nil {
		return "", xerrors.New(xerrors.CodeNotInitialized, "未配置领取私钥，无法发起交易")
	}
	backend := f.client.ContractBackend()
	if backend == nil {
		return "", xerrors.New(xerrors.CodeChainFailure, "当前链客户端不支持合约调用")
	}

	chainID, err := f.client.ChainID(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(f.key, chainID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "构造交易签名器失败")
	}
	auth.Context = ctx

	bound := bind.NewBoundContract(f.contract, f.parsed, backend, backend, backend)
	tx, err := bound.Transact(auth, "claimFees", f.token)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "发送费用领取交易失败")
	}
	return tx.Hash().Hex(), nil
}
