package events

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// Subtype names one interpretation of a log within a protocol.
type Subtype string

const (
	SubtypeOrderFulfilled     Subtype = "order-fulfilled"
	SubtypeOrderCancelled     Subtype = "order-cancelled"
	SubtypeCounterIncremented Subtype = "counter-incremented"
	SubtypeNonceCancelled     Subtype = "nonce-cancelled"
	SubtypeBulkCancel         Subtype = "bulk-cancel"
	SubtypeTakerAsk           Subtype = "taker-ask"
	SubtypeTakerBid           Subtype = "taker-bid"
	SubtypeInventory          Subtype = "inventory"
	SubtypeERC20Transfer      Subtype = "erc20-transfer"
)

// Well-known topic0 hashes (keccak256 of the event signatures).
var (
	// Seaport
	topicOrderFulfilled     = common.HexToHash("0x9d9af8e38d66c62e2c12f0225249fd9d721c54b83f48d9352c97c6cacdcb6f31")
	topicOrderCancelled     = common.HexToHash("0x6bacc01dbe442496068f7d234edd811f1a5f833243e0aec824f86ab861f3c90d")
	topicCounterIncremented = common.HexToHash("0x721c20121297512b72821b97f5326877ea8ecf4bb9948fea5bfcb6453074d37f")

	// ZeroEx v4
	topicERC721OrderFilled     = common.HexToHash("0x6e8b4e12cb6ae2f556dccd3f5a542fd2a575095cf1162e5d5078b8102534a781")
	topicERC721OrderCancelled  = common.HexToHash("0xa015ad2dc32f266993958a0fd9884c746b971b254206f3478bc43e2f125c7b9e")
	topicERC1155OrderFilled    = common.HexToHash("0x1cc39994a06aa9e2ea3f498eef41bf26abf4e3f031acfe22af8b32007efb8fba")
	topicERC1155OrderCancelled = common.HexToHash("0x4d5ea7da64f50a4a329921b8d2cab52dff4ebcc58b61d10ff839e28e91445684")

	// LooksRare
	topicTakerAsk             = common.HexToHash("0x68cd251d4d267c6e2034ff0088b990352b97b2002c0476587d0c4da889c11330")
	topicTakerBid             = common.HexToHash("0x95fb6205e23ff6bda16a2d1dba56b9ad7c783f67c96fa149785052f47696f2be")
	topicCancelAllOrders      = common.HexToHash("0x1e7178d84f0b0825c65795cd62e7972809ad3aac6917843aaec596161b2c0a97")
	topicCancelMultipleOrders = common.HexToHash("0xfa0ae5d80fe3763c880a3839fab0294171a6f730d1f82c4cd5392c6f67b41732")

	// X2Y2
	topicEvInventory = common.HexToHash("0xe107bed8a0bbb96a49980bf29622bcab8347adcf5f8eeac9f93bacfa33df6205")
	topicEvCancel    = common.HexToHash("0x5b0b06d07e20243724d90e17a20034972f339eb28bd1c9437a71999bd15a1e7a")

	// ERC-20 Transfer, correlated into x2y2 price extraction.
	topicTransfer = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
)

// Match is one protocol interpretation of a classified log.
type Match struct {
	Kind    domain.OrderKind
	Subtype Subtype
}

// Registration binds a topic0 (plus a topic-count discriminator and an
// optional contract allow-list) to a protocol interpretation. The same topic0
// may carry several registrations; ambiguous logs match all of them and the
// handlers sort it out.
type Registration struct {
	Topic     common.Hash
	NumTopics int
	Addresses []common.Address // empty = any emitter
	Match     Match
}

func (r Registration) matches(addr common.Address, numTopics int) bool {
	if numTopics != r.NumTopics {
		return false
	}
	if len(r.Addresses) == 0 {
		return true
	}
	for _, a := range r.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Registry is the static topic0 lookup table.
type Registry struct {
	entries map[common.Hash][]Registration
}

// Addresses pins protocol registrations to their deployed exchange contracts.
// A zero value leaves every registration unpinned (useful on test chains).
type Addresses struct {
	Seaport   common.Address
	ZeroExV4  common.Address
	LooksRare common.Address
	X2Y2      common.Address
}

// NewRegistry builds the registry for all supported protocols.
func NewRegistry(addrs Addresses) *Registry {
	r := &Registry{entries: make(map[common.Hash][]Registration)}

	pin := func(a common.Address) []common.Address {
		if a == (common.Address{}) {
			return nil
		}
		return []common.Address{a}
	}

	r.add(Registration{topicOrderFulfilled, 3, pin(addrs.Seaport), Match{domain.OrderKindSeaport, SubtypeOrderFulfilled}})
	r.add(Registration{topicOrderCancelled, 3, pin(addrs.Seaport), Match{domain.OrderKindSeaport, SubtypeOrderCancelled}})
	r.add(Registration{topicCounterIncremented, 2, pin(addrs.Seaport), Match{domain.OrderKindSeaport, SubtypeCounterIncremented}})

	r.add(Registration{topicERC721OrderFilled, 1, pin(addrs.ZeroExV4), Match{domain.OrderKindZeroExV4, SubtypeOrderFulfilled}})
	r.add(Registration{topicERC721OrderCancelled, 1, pin(addrs.ZeroExV4), Match{domain.OrderKindZeroExV4, SubtypeNonceCancelled}})
	r.add(Registration{topicERC1155OrderFilled, 1, pin(addrs.ZeroExV4), Match{domain.OrderKindZeroExV4, SubtypeOrderFulfilled}})
	r.add(Registration{topicERC1155OrderCancelled, 1, pin(addrs.ZeroExV4), Match{domain.OrderKindZeroExV4, SubtypeNonceCancelled}})

	r.add(Registration{topicTakerAsk, 4, pin(addrs.LooksRare), Match{domain.OrderKindLooksRare, SubtypeTakerAsk}})
	r.add(Registration{topicTakerBid, 4, pin(addrs.LooksRare), Match{domain.OrderKindLooksRare, SubtypeTakerBid}})
	r.add(Registration{topicCancelAllOrders, 2, pin(addrs.LooksRare), Match{domain.OrderKindLooksRare, SubtypeBulkCancel}})
	r.add(Registration{topicCancelMultipleOrders, 2, pin(addrs.LooksRare), Match{domain.OrderKindLooksRare, SubtypeNonceCancelled}})

	r.add(Registration{topicEvInventory, 2, pin(addrs.X2Y2), Match{domain.OrderKindX2Y2, SubtypeInventory}})
	r.add(Registration{topicEvCancel, 2, pin(addrs.X2Y2), Match{domain.OrderKindX2Y2, SubtypeOrderCancelled}})

	// ERC-20 transfers emit from arbitrary token contracts; x2y2 settlement
	// price recovery correlates them within the same transaction.
	r.add(Registration{topicTransfer, 3, nil, Match{domain.OrderKindX2Y2, SubtypeERC20Transfer}})

	return r
}

func (r *Registry) add(reg Registration) {
	r.entries[reg.Topic] = append(r.entries[reg.Topic], reg)
}

// Lookup returns every interpretation of the (topic0, emitter, topic count)
// triple, in registration order.
func (r *Registry) Lookup(topic common.Hash, emitter common.Address, numTopics int) []Match {
	regs, ok := r.entries[topic]
	if !ok {
		return nil
	}
	var matches []Match
	for _, reg := range regs {
		if reg.matches(emitter, numTopics) {
			matches = append(matches, reg.Match)
		}
	}
	return matches
}

// Known reports whether the topic0 has any registration at all, regardless of
// emitter or topic count.
func (r *Registry) Known(topic common.Hash) bool {
	return len(r.entries[topic]) > 0
}
