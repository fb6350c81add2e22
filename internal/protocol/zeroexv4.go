package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

// nonceScanWindow bounds the backward scan over recent master nonce values
// when a fill's calldata omits the order nonce. Makers rarely have more than
// a handful of orders signed against nonces trailing the master value.
const nonceScanWindow = 5

// EIP-712 type strings of the 0x v4 NFT orders.
var (
	erc721OrderTypeHash = crypto.Keccak256Hash([]byte(
		"ERC721Order(uint8 direction,address maker,address taker,uint256 expiry,uint256 nonce,address erc20Token,uint256 erc20TokenAmount,Fee[] fees,address erc721Token,uint256 erc721TokenId,Property[] erc721TokenProperties)" +
			"Fee(address recipient,uint256 amount,bytes feeData)" +
			"Property(address propertyValidator,bytes propertyData)"))
	feeTypeHash = crypto.Keccak256Hash([]byte(
		"Fee(address recipient,uint256 amount,bytes feeData)"))
	propertyTypeHash = crypto.Keccak256Hash([]byte(
		"Property(address propertyValidator,bytes propertyData)"))
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// ZeroExV4Config pins the handler to a deployment.
type ZeroExV4Config struct {
	Exchange common.Address
	ChainID  *big.Int
}

// ZeroExV4Handler extracts facts from 0x v4 NFT order logs. The fill log
// carries maker and nonce but not the order digest, so identity is resolved
// by a ladder: reconstruct the EIP-712 digest from the exchange calldata in
// the batch trace (scanning recent master nonces when the calldata omits the
// nonce), then fall back to a (maker, nonce) store lookup.
type ZeroExV4Handler struct {
	cfg             ZeroExV4Config
	nonces          NonceSource
	orders          OrderLookup
	domainSeparator common.Hash
	logger          *slog.Logger
}

// NewZeroExV4Handler wires the handler.
func NewZeroExV4Handler(cfg ZeroExV4Config, nonces NonceSource, orders OrderLookup, logger *slog.Logger) *ZeroExV4Handler {
	h := &ZeroExV4Handler{
		cfg:    cfg,
		nonces: nonces,
		orders: orders,
		logger: logger.With("protocol", "zeroex-v4"),
	}
	h.domainSeparator = crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte("ZeroEx")),
		crypto.Keccak256([]byte("1.0.0")),
		common.BigToHash(cfg.ChainID).Bytes(),
		common.BytesToHash(cfg.Exchange.Bytes()).Bytes(),
	)
	return h
}

// Kind implements Handler.
func (h *ZeroExV4Handler) Kind() domain.OrderKind { return domain.OrderKindZeroExV4 }

// HandleEventBatch implements Handler.
func (h *ZeroExV4Handler) HandleEventBatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error {
	for _, cl := range batch.Logs {
		switch {
		case cl.HasMatch(domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled):
			if err := h.handleFilled(ctx, batch, cl, facts); err != nil {
				h.logger.Warn("undecodable fill, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
			}

		case cl.HasMatch(domain.OrderKindZeroExV4, events.SubtypeNonceCancelled):
			maker, err := addressAt(cl.Log.Data, 0)
			if err != nil {
				h.logger.Warn("undecodable cancel, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
				continue
			}
			nonce, err := uint64At(cl.Log.Data, 1)
			if err != nil {
				h.logger.Warn("undecodable cancel, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
				continue
			}
			facts.AddNonceChange(domain.NonceChange{
				Kind:  domain.OrderKindZeroExV4,
				Maker: maker.Hex(),
				Nonce: nonce,
				Tx:    batch.TxContext(cl.Log),
			})
		}
	}
	return nil
}

// handleFilled decodes ERC721OrderFilled / ERC1155OrderFilled:
//
//	data = direction, maker, taker, nonce, erc20Token, erc20TokenAmount,
//	       nftToken, nftTokenId[, erc1155FillAmount]
func (h *ZeroExV4Handler) handleFilled(ctx context.Context, batch *events.EventBatch, cl events.ClassifiedLog, facts *domain.OnChainFacts) error {
	data := cl.Log.Data

	direction, err := uint64At(data, 0)
	if err != nil {
		return err
	}
	maker, err := addressAt(data, 1)
	if err != nil {
		return err
	}
	taker, err := addressAt(data, 2)
	if err != nil {
		return err
	}
	nonce, err := uint64At(data, 3)
	if err != nil {
		return err
	}
	erc20Token, err := addressAt(data, 4)
	if err != nil {
		return err
	}
	price, err := bigAt(data, 5)
	if err != nil {
		return err
	}
	nftToken, err := addressAt(data, 6)
	if err != nil {
		return err
	}
	nftTokenID, err := bigAt(data, 7)
	if err != nil {
		return err
	}
	amount := int64(1)
	if len(data) >= 9*wordSize {
		fillAmount, err := bigAt(data, 8)
		if err == nil && fillAmount.IsInt64() && fillAmount.Int64() > 0 {
			amount = fillAmount.Int64()
		}
	}

	side := domain.SideSell
	if direction == 1 {
		side = domain.SideBuy
	}

	orderID, err := h.resolveOrderID(ctx, batch, maker, nonce)
	if err != nil {
		// Unresolvable identity still consumes the nonce on-chain.
		h.logger.Warn("order identity unresolved, recording nonce invalidation",
			"tx", batch.TxHash, "maker", maker.Hex(), "nonce", nonce, "error", err)
		facts.AddNonceChange(domain.NonceChange{
			Kind:  domain.OrderKindZeroExV4,
			Maker: maker.Hex(),
			Nonce: nonce,
			Tx:    batch.TxContext(cl.Log),
		})
		return nil
	}

	facts.AddFill(domain.Fill{
		OrderID:  orderID,
		Kind:     domain.OrderKindZeroExV4,
		Side:     side,
		Maker:    maker.Hex(),
		Taker:    taker.Hex(),
		Contract: nftToken.Hex(),
		TokenID:  nftTokenID.String(),
		Amount:   amount,
		RawPrice: price,
		Currency: erc20Token.Hex(),
		Tx:       batch.TxContext(cl.Log),
	})
	return nil
}

// resolveOrderID runs the identity ladder.
func (h *ZeroExV4Handler) resolveOrderID(ctx context.Context, batch *events.EventBatch, maker common.Address, nonce uint64) (string, error) {
	// Reconstruct the digest from the exchange calldata in the trace.
	if batch.Trace != nil {
		if id, ok := h.reconstructFromTrace(ctx, batch, maker, nonce); ok {
			return id, nil
		}
	}

	// Store lookup by (maker, nonce).
	order, err := h.orders.GetByMakerNonce(ctx, domain.OrderKindZeroExV4, maker.Hex(), nonce)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("no order for maker %s nonce %d", maker.Hex(), nonce)
		}
		return "", err
	}
	return order.ID, nil
}

// reconstructFromTrace walks the exchange call frames, recovers the order
// tuple from each fill call's first argument, and hashes EIP-712 digest
// candidates. When the tuple's nonce slot is zeroed (batch fill variants omit
// it) the maker's recent master nonces are spliced in, newest first, within
// nonceScanWindow. A candidate counts only when the store knows the digest.
func (h *ZeroExV4Handler) reconstructFromTrace(ctx context.Context, batch *events.EventBatch, maker common.Address, logNonce uint64) (string, bool) {
	frames := batch.Trace.FindCalls(h.cfg.Exchange.Hex())
	for _, frame := range frames {
		input := common.FromHex(frame.Input)
		if len(input) <= 4+wordSize {
			continue
		}
		args := input[4:]

		// Fill calls carry the order tuple as their first (dynamic) argument.
		tupleOff, err := offsetAt(args, 0)
		if err != nil || tupleOff >= len(args) {
			continue
		}
		tuple := args[tupleOff:]

		tupleMaker, err := addressAt(tuple, 1)
		if err != nil || tupleMaker != maker {
			continue
		}

		for _, candidate := range h.candidateNonces(ctx, tuple, maker, logNonce) {
			digest, err := h.orderDigest(tuple, candidate)
			if err != nil {
				continue
			}
			if _, err := h.orders.GetByID(ctx, digest.Hex()); err == nil {
				return digest.Hex(), true
			}
		}
	}
	return "", false
}

// candidateNonces orders the nonce values to try: the tuple's own nonce, the
// log nonce, then the maker's recent master nonces newest first.
func (h *ZeroExV4Handler) candidateNonces(ctx context.Context, tuple []byte, maker common.Address, logNonce uint64) []uint64 {
	var candidates []uint64
	if tupleNonce, err := uint64At(tuple, 4); err == nil && tupleNonce != 0 {
		candidates = append(candidates, tupleNonce)
	}
	if logNonce != 0 {
		candidates = append(candidates, logNonce)
	}

	master, err := h.nonces.MasterNonce(ctx, domain.OrderKindZeroExV4, maker.Hex())
	if err != nil {
		h.logger.Debug("master nonce unavailable", "maker", maker.Hex(), "error", err)
		return candidates
	}
	for i := uint64(0); i < nonceScanWindow && master >= i; i++ {
		candidates = append(candidates, master-i)
	}
	return candidates
}

// orderDigest hashes the EIP-712 digest of the ERC721 order tuple with the
// given nonce spliced in. Tuple layout (words):
//
//	0 direction  1 maker       2 taker     3 expiry       4 nonce
//	5 erc20Token 6 erc20Amount 7 fees off  8 erc721Token  9 erc721TokenId
//	10 properties off
func (h *ZeroExV4Handler) orderDigest(tuple []byte, nonce uint64) (common.Hash, error) {
	fields := make([][]byte, 0, 12)
	fields = append(fields, erc721OrderTypeHash.Bytes())
	for i := 0; i < 7; i++ {
		w, err := word(tuple, i)
		if err != nil {
			return common.Hash{}, err
		}
		if i == 4 {
			w = common.BigToHash(new(big.Int).SetUint64(nonce)).Bytes()
		}
		fields = append(fields, w)
	}

	feesHash, err := hashFees(tuple, 7)
	if err != nil {
		return common.Hash{}, err
	}
	fields = append(fields, feesHash.Bytes())

	for i := 8; i <= 9; i++ {
		w, err := word(tuple, i)
		if err != nil {
			return common.Hash{}, err
		}
		fields = append(fields, w)
	}

	propsHash, err := hashProperties(tuple, 10)
	if err != nil {
		return common.Hash{}, err
	}
	fields = append(fields, propsHash.Bytes())

	structHash := crypto.Keccak256(fields...)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, h.domainSeparator.Bytes(), structHash), nil
}

// hashFees hashes the Fee[] array per EIP-712: concat of member struct
// hashes, hashed again.
func hashFees(tuple []byte, headWord int) (common.Hash, error) {
	off, err := offsetAt(tuple, headWord)
	if err != nil {
		return common.Hash{}, err
	}
	body := tuple[off:]
	n, err := uint64At(body, 0)
	if err != nil {
		return common.Hash{}, err
	}
	if n > 16 {
		return common.Hash{}, fmt.Errorf("implausible fee count %d", n)
	}

	var concat []byte
	for i := 0; i < int(n); i++ {
		feeOff, err := offsetAt(body[wordSize:], i)
		if err != nil {
			return common.Hash{}, err
		}
		fee := body[wordSize+feeOff:]
		recipient, err := word(fee, 0)
		if err != nil {
			return common.Hash{}, err
		}
		amount, err := word(fee, 1)
		if err != nil {
			return common.Hash{}, err
		}
		dataOff, err := offsetAt(fee, 2)
		if err != nil {
			return common.Hash{}, err
		}
		dataLen, err := uint64At(fee[dataOff:], 0)
		if err != nil || uint64(len(fee)) < uint64(dataOff)+wordSize+dataLen {
			return common.Hash{}, fmt.Errorf("fee data out of range")
		}
		feeData := fee[dataOff+wordSize : uint64(dataOff)+wordSize+dataLen]

		memberHash := crypto.Keccak256(
			feeTypeHash.Bytes(), recipient, amount, crypto.Keccak256(feeData))
		concat = append(concat, memberHash...)
	}
	return crypto.Keccak256Hash(concat), nil
}

// hashProperties hashes the Property[] array per EIP-712.
func hashProperties(tuple []byte, headWord int) (common.Hash, error) {
	off, err := offsetAt(tuple, headWord)
	if err != nil {
		return common.Hash{}, err
	}
	body := tuple[off:]
	n, err := uint64At(body, 0)
	if err != nil {
		return common.Hash{}, err
	}
	if n > 16 {
		return common.Hash{}, fmt.Errorf("implausible property count %d", n)
	}

	var concat []byte
	for i := 0; i < int(n); i++ {
		propOff, err := offsetAt(body[wordSize:], i)
		if err != nil {
			return common.Hash{}, err
		}
		prop := body[wordSize+propOff:]
		validator, err := word(prop, 0)
		if err != nil {
			return common.Hash{}, err
		}
		dataOff, err := offsetAt(prop, 1)
		if err != nil {
			return common.Hash{}, err
		}
		dataLen, err := uint64At(prop[dataOff:], 0)
		if err != nil || uint64(len(prop)) < uint64(dataOff)+wordSize+dataLen {
			return common.Hash{}, fmt.Errorf("property data out of range")
		}
		propData := prop[dataOff+wordSize : uint64(dataOff)+wordSize+dataLen]

		memberHash := crypto.Keccak256(
			propertyTypeHash.Bytes(), validator, crypto.Keccak256(propData))
		concat = append(concat, memberHash...)
	}
	return crypto.Keccak256Hash(concat), nil
}

var _ Handler = (*ZeroExV4Handler)(nil)
