// Package erc721 issues Wizard tokens through an EVM collection contract.
package erc721

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"magink/core/issuance"
	"magink/crypto"
)

const (
	defaultReceiptTimeout = 2 * time.Minute
	reconcileTimeout      = 15 * time.Second
)

// Backend is the chain access the issuer needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Config describes how to reach the collection contract.
type Config struct {
	RPCURL         string
	Contract       string
	ReceiptTimeout time.Duration
}

// Issuer mints through the collection contract. It implements
// issuance.Service.
type Issuer struct {
	backend        Backend
	contract       *bind.BoundContract
	abi            abi.ABI
	address        common.Address
	transact       *bind.TransactOpts
	receiptTimeout time.Duration
	tracer         trace.Tracer
}

var (
	_ issuance.Service     = (*Issuer)(nil)
	_ issuance.OwnerLookup = (*Issuer)(nil)
)

// Dial connects to the RPC endpoint and binds the contract with the signer
// key.
func Dial(ctx context.Context, cfg Config, key *crypto.PrivateKey) (*Issuer, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("erc721: rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("erc721: dial rpc: %w", err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("erc721: fetch chain id: %w", err)
	}
	issuer, err := New(cli, chainID, cfg, key)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return issuer, nil
}

// New binds the collection on an existing backend.
func New(backend Backend, chainID *big.Int, cfg Config, key *crypto.PrivateKey) (*Issuer, error) {
	if backend == nil {
		return nil, fmt.Errorf("erc721: backend is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("erc721: invalid contract address %q", cfg.Contract)
	}
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("erc721: signer key is required")
	}
	parsed, err := abi.JSON(strings.NewReader(WizardCollectionABI))
	if err != nil {
		return nil, fmt.Errorf("erc721: parse abi: %w", err)
	}
	transact, err := bind.NewKeyedTransactorWithChainID(key.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("erc721: transactor: %w", err)
	}
	address := common.HexToAddress(cfg.Contract)
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	return &Issuer{
		backend:        backend,
		contract:       bind.NewBoundContract(address, parsed, backend, backend, backend),
		abi:            parsed,
		address:        address,
		transact:       transact,
		receiptTimeout: timeout,
		tracer:         otel.Tracer("magink/erc721"),
	}, nil
}

// CollectionID returns the id the contract stores metadata under.
func (i *Issuer) CollectionID() []byte { return i.address.Bytes() }

// Address returns the contract address.
func (i *Issuer) Address() common.Address { return i.address }

// Mint submits the mint transaction and waits for its receipt. A revert
// during gas estimation or a failed receipt is a refusal. When submission or
// the receipt wait fails the token owner is read back: a token held by to is
// a success and one held by anybody else is a refusal. Otherwise the outcome
// stays unknown and the error is returned as is.
func (i *Issuer) Mint(ctx context.Context, to crypto.Address, id *uint256.Int) error {
	if id == nil {
		id = uint256.NewInt(0)
	}
	ctx, span := i.tracer.Start(ctx, "erc721.mint",
		trace.WithAttributes(attribute.String("to", to.Common().Hex()), attribute.String("token.id", id.Dec())))
	defer span.End()

	opts := *i.transact
	opts.Context = ctx
	tx, err := i.contract.Transact(&opts, "mint", to.Common(), id.ToBig())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isRevert(err) {
			return issuance.Rejected("mint reverted", err)
		}
		return i.reconcile(ctx, to, id, fmt.Errorf("erc721: submit mint: %w", err))
	}
	span.SetAttributes(attribute.String("tx.hash", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, i.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, i.backend, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return i.reconcile(ctx, to, id, fmt.Errorf("erc721: wait for mint receipt: %w", err))
	}
	if err := receiptOutcome(receipt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "minted")
	return nil
}

// reconcile resolves an unknown mint outcome from the current token owner.
// cause is returned when the owner cannot be read or the token is absent.
func (i *Issuer) reconcile(ctx context.Context, to crypto.Address, id *uint256.Int, cause error) error {
	span := trace.SpanFromContext(ctx)
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()
	owner, held, err := i.OwnerOf(lookupCtx, id)
	switch {
	case err != nil:
		span.AddEvent("reconcile failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return cause
	case !held:
		return cause
	case owner.Equal(to):
		span.SetStatus(codes.Ok, "minted")
		return nil
	default:
		return issuance.Rejected(fmt.Sprintf("token %s held by %s", id.Dec(), owner.Common().Hex()), cause)
	}
}

// OwnerOf implements issuance.OwnerLookup. A reverted lookup means the
// token does not exist.
func (i *Issuer) OwnerOf(ctx context.Context, id *uint256.Int) (crypto.Address, bool, error) {
	if id == nil {
		id = uint256.NewInt(0)
	}
	var out []interface{}
	if err := i.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", id.ToBig()); err != nil {
		if isRevert(err) {
			return crypto.Address{}, false, nil
		}
		return crypto.Address{}, false, fmt.Errorf("erc721: owner of %s: %w", id.Dec(), err)
	}
	if len(out) == 0 {
		return crypto.Address{}, false, fmt.Errorf("erc721: empty call result")
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return crypto.Address{}, false, fmt.Errorf("erc721: unexpected owner type %T", out[0])
	}
	if owner == (common.Address{}) {
		return crypto.Address{}, false, nil
	}
	return crypto.FromCommon(owner), true, nil
}

// TotalSupply implements issuance.Service.
func (i *Issuer) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	var out []interface{}
	if err := i.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply"); err != nil {
		return nil, fmt.Errorf("erc721: total supply: %w", err)
	}
	value, err := firstBig(out)
	if err != nil {
		return nil, err
	}
	supply, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("erc721: total supply overflows 256 bits")
	}
	return supply, nil
}

// BalanceOf implements issuance.Service.
func (i *Issuer) BalanceOf(ctx context.Context, owner crypto.Address) (uint32, error) {
	var out []interface{}
	if err := i.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner.Common()); err != nil {
		return 0, fmt.Errorf("erc721: balance: %w", err)
	}
	value, err := firstBig(out)
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() || value.Uint64() > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(value.Uint64()), nil
}

// Attribute implements issuance.Service. The contract returns an empty
// string for unknown keys.
func (i *Issuer) Attribute(ctx context.Context, collection []byte, key string) (string, bool, error) {
	var out []interface{}
	if err := i.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAttribute", collection, key); err != nil {
		return "", false, fmt.Errorf("erc721: attribute: %w", err)
	}
	if len(out) == 0 {
		return "", false, nil
	}
	value, ok := out[0].(string)
	if !ok {
		return "", false, fmt.Errorf("erc721: unexpected attribute type %T", out[0])
	}
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func firstBig(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("erc721: empty call result")
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("erc721: unexpected result type %T", out[0])
	}
	return value, nil
}

func receiptOutcome(receipt *types.Receipt) error {
	if receipt == nil {
		return errors.New("erc721: missing receipt")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return issuance.Rejected(fmt.Sprintf("mint transaction %s failed", receipt.TxHash.Hex()), nil)
	}
	return nil
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
