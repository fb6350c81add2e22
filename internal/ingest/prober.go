package ingest

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/floorsync/internal/chain"
	"github.com/alanyoungcy/floorsync/internal/domain"
)

// Well-known function selectors.
var (
	selOwnerOf          = common.FromHex("0x6352211e") // ownerOf(uint256)
	selIsApprovedForAll = common.FromHex("0xe985e9c5") // isApprovedForAll(address,address)
	selBalanceOf        = common.FromHex("0x70a08231") // balanceOf(address)
	selAllowance        = common.FromHex("0xdd62ed3e") // allowance(address,address)
)

// ChainProber probes order fillability with batched eth_call against the
// live chain: NFT ownership and transfer approval for asks, currency balance
// and spending allowance for bids.
type ChainProber struct {
	client    *chain.Client
	operators map[domain.OrderKind]common.Address
}

// NewChainProber wires the prober. operators maps each protocol to the
// address that must be approved to move the maker's assets.
func NewChainProber(client *chain.Client, operators map[domain.OrderKind]common.Address) *ChainProber {
	return &ChainProber{client: client, operators: operators}
}

// Probe implements Prober.
func (p *ChainProber) Probe(ctx context.Context, o domain.Order) (bool, bool, error) {
	operator := p.operators[o.Kind]
	maker := common.HexToAddress(o.Maker)

	if o.Side == domain.SideSell {
		return p.probeSell(ctx, o, maker, operator)
	}
	return p.probeBuy(ctx, o, maker, operator)
}

func (p *ChainProber) probeSell(ctx context.Context, o domain.Order, maker, operator common.Address) (bool, bool, error) {
	rawContract, rawTokenID, ok := domain.ParseSingleTokenSetID(o.TokenSetID)
	if !ok {
		return false, false, fmt.Errorf("ingest: probe %s: sell order targets non-single set %s", o.ID, o.TokenSetID)
	}
	contract := common.HexToAddress(rawContract)
	tokenID, ok := new(big.Int).SetString(rawTokenID, 10)
	if !ok {
		return false, false, fmt.Errorf("ingest: probe %s: unparsable token id", o.ID)
	}

	probes := []chain.CallProbe{
		{Key: "owner", To: contract, Data: append(append([]byte{}, selOwnerOf...), common.BigToHash(tokenID).Bytes()...)},
		{Key: "approved", To: contract, Data: encodeTwoAddresses(selIsApprovedForAll, maker, operator)},
	}
	results, err := p.client.BatchCall(ctx, probes)
	if err != nil {
		return false, false, err
	}

	hasBalance := false
	if owner, ok := results["owner"]; ok && len(owner) >= 32 {
		hasBalance = common.BytesToAddress(owner[12:32]) == maker
	}
	hasApproval := false
	if approved, ok := results["approved"]; ok && len(approved) >= 32 {
		hasApproval = approved[31] == 1
	}
	return hasBalance, hasApproval, nil
}

func (p *ChainProber) probeBuy(ctx context.Context, o domain.Order, maker, operator common.Address) (bool, bool, error) {
	currency := common.HexToAddress(o.Currency)

	probes := []chain.CallProbe{
		{Key: "balance", To: currency, Data: encodeOneAddress(selBalanceOf, maker)},
		{Key: "allowance", To: currency, Data: encodeTwoAddresses(selAllowance, maker, operator)},
	}
	results, err := p.client.BatchCall(ctx, probes)
	if err != nil {
		return false, false, err
	}

	need := o.RawPrice
	hasBalance := false
	if balance, ok := results["balance"]; ok && len(balance) >= 32 {
		hasBalance = new(big.Int).SetBytes(balance[:32]).Cmp(need) >= 0
	}
	hasApproval := false
	if allowance, ok := results["allowance"]; ok && len(allowance) >= 32 {
		hasApproval = new(big.Int).SetBytes(allowance[:32]).Cmp(need) >= 0
	}
	return hasBalance, hasApproval, nil
}

func encodeOneAddress(sel []byte, a common.Address) []byte {
	data := append([]byte{}, sel...)
	return append(data, common.BytesToHash(a.Bytes()).Bytes()...)
}

func encodeTwoAddresses(sel []byte, a, b common.Address) []byte {
	data := append([]byte{}, sel...)
	data = append(data, common.BytesToHash(a.Bytes()).Bytes()...)
	return append(data, common.BytesToHash(b.Bytes()).Bytes()...)
}

var _ Prober = (*ChainProber)(nil)
