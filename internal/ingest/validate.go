package ingest

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// validateStructure performs the kind-independent shape checks. It returns an
// empty string when the order is well-formed, otherwise the rejection reason.
func validateStructure(raw RawOrder) string {
	if !raw.Kind.Valid() {
		return fmt.Sprintf("unknown kind %q", raw.Kind)
	}
	if raw.Side != domain.SideSell && raw.Side != domain.SideBuy {
		return fmt.Sprintf("unknown side %q", raw.Side)
	}
	if !common.IsHexAddress(raw.Maker) {
		return "maker is not an address"
	}
	if raw.Taker != "" && !common.IsHexAddress(raw.Taker) {
		return "taker is not an address"
	}
	if !common.IsHexAddress(raw.Contract) {
		return "contract is not an address"
	}
	if raw.Currency != "" && !common.IsHexAddress(raw.Currency) {
		return "currency is not an address"
	}
	if raw.Price == "" {
		return "missing price"
	}
	if raw.ValidUntil != 0 && raw.ValidUntil < raw.ValidFrom {
		return "validity interval is inverted"
	}

	targets := 0
	if raw.TokenID != "" {
		targets++
	}
	if len(raw.TokenIDs) > 0 {
		targets++
	}
	if raw.FromTokenID != "" || raw.ToTokenID != "" {
		if raw.FromTokenID == "" || raw.ToTokenID == "" {
			return "range target needs both bounds"
		}
		targets++
	}
	if targets > 1 {
		return "ambiguous target: pick one of token, list, range"
	}

	// Sell orders must name concrete tokens the maker can deliver.
	if raw.Side == domain.SideSell && raw.TokenID == "" {
		return "sell orders target a single token"
	}
	return ""
}

// deriveTokenSet maps the submission target onto its content-addressed set.
func deriveTokenSet(raw RawOrder) (domain.TokenSet, error) {
	contract := strings.ToLower(raw.Contract)
	ts := domain.TokenSet{
		Contract:     contract,
		CollectionID: contract,
	}

	switch {
	case raw.TokenID != "":
		ts.Kind = domain.TokenSetSingle
		ts.TokenID = raw.TokenID
	case len(raw.TokenIDs) > 0:
		ts.Kind = domain.TokenSetList
		ts.TokenIDs = raw.TokenIDs
	case raw.FromTokenID != "":
		ts.Kind = domain.TokenSetRange
		ts.FromTokenID = raw.FromTokenID
		ts.ToTokenID = raw.ToTokenID
	default:
		ts.Kind = domain.TokenSetContract
	}

	id, err := ts.CanonicalID()
	if err != nil {
		return domain.TokenSet{}, err
	}
	ts.ID = id
	return ts, nil
}

// orderDigestTypes are the canonical submission type strings hashed into each
// kind's digest. Keeping them kind-scoped means two protocols can never
// collide on an id even with identical field values.
var orderDigestTypes = map[domain.OrderKind]string{
	domain.OrderKindSeaport:   "SeaportOrder(address maker,address taker,string target,uint256 price,address currency,uint256 validFrom,uint256 validUntil,uint256 nonce)",
	domain.OrderKindZeroExV4:  "ZeroExV4Order(address maker,address taker,string target,uint256 price,address currency,uint256 validFrom,uint256 validUntil,uint256 nonce)",
	domain.OrderKindLooksRare: "LooksRareOrder(address maker,address taker,string target,uint256 price,address currency,uint256 validFrom,uint256 validUntil,uint256 nonce)",
	domain.OrderKindX2Y2:      "X2Y2Order(address maker,address taker,string target,uint256 price,address currency,uint256 validFrom,uint256 validUntil,uint256 nonce)",
}

// orderDigest computes the deterministic submission digest that becomes the
// order id and the message the maker must have signed.
func orderDigest(raw RawOrder) ([]byte, error) {
	typeString, ok := orderDigestTypes[raw.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, raw.Kind)
	}

	ts, err := deriveTokenSet(raw)
	if err != nil {
		return nil, err
	}

	encoded := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%d|%d",
		strings.ToLower(raw.Maker),
		strings.ToLower(raw.Taker),
		ts.ID,
		raw.Price,
		strings.ToLower(raw.Currency),
		raw.Side,
		raw.ValidFrom,
		raw.ValidUntil,
		raw.Nonce,
	)
	return crypto.Keccak256(
		crypto.Keccak256([]byte(typeString)),
		crypto.Keccak256([]byte(encoded)),
	), nil
}

// verifySignature recovers the signer of the digest from a 65-byte r||s||v
// signature and compares it to the claimed maker.
func verifySignature(digest []byte, signature, maker string) bool {
	sig := common.FromHex(signature)
	if len(sig) != 65 {
		return false
	}
	// Normalize the recovery id: wallets emit 27/28, secp256k1 wants 0/1.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == common.HexToAddress(maker)
}
