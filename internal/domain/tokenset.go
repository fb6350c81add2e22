package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// TokenSetKind enumerates the supported groupings of tokens an order can
// target.
type TokenSetKind string

const (
	TokenSetSingle   TokenSetKind = "token"
	TokenSetContract TokenSetKind = "contract"
	TokenSetRange    TokenSetKind = "range"
	TokenSetList     TokenSetKind = "list"
)

// TokenSet is an immutable, content-addressed grouping of tokens. It owns a
// cached top-buy pointer: the best active buy order whose token_set_id
// references it.
type TokenSet struct {
	ID           string
	Kind         TokenSetKind
	Contract     string
	CollectionID string

	// Populated depending on Kind.
	TokenID     string   // single
	FromTokenID string   // range
	ToTokenID   string   // range
	TokenIDs    []string // list

	TopBuyID    *string
	TopBuyValue *decimal.Decimal

	CreatedAt time.Time
}

// SingleTokenSetID returns the canonical id of a single-token set.
func SingleTokenSetID(contract, tokenID string) string {
	return fmt.Sprintf("token:%s:%s", strings.ToLower(contract), tokenID)
}

// ContractTokenSetID returns the canonical id of a contract-wide set.
func ContractTokenSetID(contract string) string {
	return "contract:" + strings.ToLower(contract)
}

// RangeTokenSetID returns the canonical id of a contiguous token-id range.
func RangeTokenSetID(contract, from, to string) string {
	return fmt.Sprintf("range:%s:%s:%s", strings.ToLower(contract), from, to)
}

// ListTokenSetID returns the canonical id of an explicit token list. The id
// embeds a keccak256 content hash over the sorted token ids, so the same list
// always maps to the same set regardless of submission order.
func ListTokenSetID(contract string, tokenIDs []string) string {
	sorted := make([]string, len(tokenIDs))
	copy(sorted, tokenIDs)
	sort.Strings(sorted)

	h := sha3.NewLegacyKeccak256()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0x00})
	}
	return fmt.Sprintf("list:%s:0x%x", strings.ToLower(contract), h.Sum(nil))
}

// ParseSingleTokenSetID splits a "token:{contract}:{id}" set id back into its
// parts. ok is false for any other set shape.
func ParseSingleTokenSetID(id string) (contract, tokenID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "token" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// OwningContract extracts the owning contract embedded in any canonical
// set id. ok is false for ids that do not follow a known shape.
func OwningContract(id string) (contract string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	switch TokenSetKind(parts[0]) {
	case TokenSetSingle, TokenSetContract, TokenSetRange, TokenSetList:
		return parts[1], true
	}
	return "", false
}

// CanonicalID recomputes the content-addressed id from the set's kind and
// payload. It is used both at derivation time and to validate submitted sets.
func (ts TokenSet) CanonicalID() (string, error) {
	switch ts.Kind {
	case TokenSetSingle:
		if ts.TokenID == "" {
			return "", fmt.Errorf("domain: single token set missing token id")
		}
		return SingleTokenSetID(ts.Contract, ts.TokenID), nil
	case TokenSetContract:
		return ContractTokenSetID(ts.Contract), nil
	case TokenSetRange:
		if ts.FromTokenID == "" || ts.ToTokenID == "" {
			return "", fmt.Errorf("domain: range token set missing bounds")
		}
		return RangeTokenSetID(ts.Contract, ts.FromTokenID, ts.ToTokenID), nil
	case TokenSetList:
		if len(ts.TokenIDs) == 0 {
			return "", fmt.Errorf("domain: list token set is empty")
		}
		return ListTokenSetID(ts.Contract, ts.TokenIDs), nil
	default:
		return "", fmt.Errorf("domain: unknown token set kind %q", ts.Kind)
	}
}
