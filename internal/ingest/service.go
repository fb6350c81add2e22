package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
)

// SubmitStatus is the outcome of an order submission. Expected rejections are
// statuses, not errors; an error from SubmitOrder means infrastructure
// failure, not a bad order.
type SubmitStatus string

const (
	StatusSuccess          SubmitStatus = "success"
	StatusAlreadyExists    SubmitStatus = "already-exists"
	StatusExpired          SubmitStatus = "expired"
	StatusInvalidSignature SubmitStatus = "invalid-signature"
	StatusNotFillable      SubmitStatus = "not-fillable"
	StatusFiltered         SubmitStatus = "filtered"
	StatusInvalidOrder     SubmitStatus = "invalid-order"
)

// SubmitResult is returned for every submission attempt.
type SubmitResult struct {
	Status  SubmitStatus `json:"status"`
	OrderID string       `json:"order_id,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// RawOrder is a submitted order before validation and normalization.
type RawOrder struct {
	Kind  domain.OrderKind `json:"kind"`
	Side  domain.Side      `json:"side"`
	Maker string           `json:"maker"`
	Taker string           `json:"taker,omitempty"`

	// Target: exactly one of the token-set shapes.
	Contract    string   `json:"contract"`
	TokenID     string   `json:"token_id,omitempty"`
	FromTokenID string   `json:"from_token_id,omitempty"`
	ToTokenID   string   `json:"to_token_id,omitempty"`
	TokenIDs    []string `json:"token_ids,omitempty"`

	Price    string `json:"price"` // raw currency units, decimal string
	Currency string `json:"currency"`

	ValidFrom  int64 `json:"valid_from"`  // unix seconds
	ValidUntil int64 `json:"valid_until"` // unix seconds, 0 = no expiry

	Quantity   int64  `json:"quantity,omitempty"`
	Nonce      uint64 `json:"nonce"`
	FeeBps     int    `json:"fee_bps,omitempty"`
	RoyaltyBps int    `json:"royalty_bps,omitempty"` // royalties built into the order
	Source     string `json:"source,omitempty"`

	Signature string `json:"signature"` // 65-byte hex r||s||v
}

// Prober checks an order's on-chain fillability conditions.
type Prober interface {
	// Probe reports whether the maker currently holds the balance the order
	// needs and whether the required transfer approval exists.
	Probe(ctx context.Context, o domain.Order) (hasBalance, hasApproval bool, err error)
}

// Config tunes the ingestion service.
type Config struct {
	// FilteredSources rejects submissions from the named sources outright.
	FilteredSources []string
	// RevalidationBatch bounds how many recoverable orders one revalidation
	// pass re-probes.
	RevalidationBatch int
}

// Service owns order ingestion: submission, on-chain fact application, expiry
// and revalidation sweeps.
type Service struct {
	cfg         Config
	orders      domain.OrderStore
	tokens      domain.TokenStore
	sets        domain.TokenSetStore
	collections domain.CollectionStore
	facts       domain.FactStore
	nonces      domain.NonceStore
	queue       domain.TaskQueue
	prober      Prober
	logger      *slog.Logger
}

// NewService wires the ingestion service.
func NewService(cfg Config, orders domain.OrderStore, tokens domain.TokenStore, sets domain.TokenSetStore, collections domain.CollectionStore, facts domain.FactStore, nonces domain.NonceStore, queue domain.TaskQueue, prober Prober, logger *slog.Logger) *Service {
	if cfg.RevalidationBatch <= 0 {
		cfg.RevalidationBatch = 200
	}
	return &Service{
		cfg:         cfg,
		orders:      orders,
		tokens:      tokens,
		sets:        sets,
		collections: collections,
		facts:       facts,
		nonces:      nonces,
		queue:       queue,
		prober:      prober,
		logger:      logger.With("component", "ingest"),
	}
}

// MasterNonce exposes the maker nonce bookkeeping to protocol handlers.
func (s *Service) MasterNonce(ctx context.Context, kind domain.OrderKind, maker string) (uint64, error) {
	return s.nonces.GetMasterNonce(ctx, kind, maker)
}

// SubmitOrder validates, normalizes and persists one submitted order. On
// success a new-order reconciliation is enqueued for the order's token set.
func (s *Service) SubmitOrder(ctx context.Context, raw RawOrder) (SubmitResult, error) {
	if reason := validateStructure(raw); reason != "" {
		return SubmitResult{Status: StatusInvalidOrder, Reason: reason}, nil
	}

	for _, src := range s.cfg.FilteredSources {
		if strings.EqualFold(src, raw.Source) {
			return SubmitResult{Status: StatusFiltered, Reason: "source is filtered"}, nil
		}
	}

	now := time.Now().UTC()
	if raw.ValidUntil != 0 && time.Unix(raw.ValidUntil, 0).Before(now) {
		return SubmitResult{Status: StatusExpired}, nil
	}

	digest, err := orderDigest(raw)
	if err != nil {
		return SubmitResult{Status: StatusInvalidOrder, Reason: err.Error()}, nil
	}
	if !verifySignature(digest, raw.Signature, raw.Maker) {
		return SubmitResult{Status: StatusInvalidSignature}, nil
	}
	orderID := "0x" + fmt.Sprintf("%x", digest)

	tokenSet, err := deriveTokenSet(raw)
	if err != nil {
		return SubmitResult{Status: StatusInvalidOrder, Reason: err.Error()}, nil
	}

	order, err := s.normalize(ctx, raw, orderID, tokenSet)
	if err != nil {
		return SubmitResult{}, err
	}

	hasBalance, hasApproval, err := s.prober.Probe(ctx, order)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("ingest: probe order %s: %w", orderID, err)
	}
	if !hasBalance {
		return SubmitResult{Status: StatusNotFillable, OrderID: orderID, Reason: "insufficient balance"}, nil
	}
	if !hasApproval {
		order.Approval = domain.ApprovalNoApproval
	}

	// Persist the target graph before the order so the floor recompute can
	// already see the membership rows.
	if err := s.persistTarget(ctx, raw, tokenSet); err != nil {
		return SubmitResult{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return SubmitResult{Status: StatusAlreadyExists, OrderID: orderID}, nil
		}
		return SubmitResult{}, err
	}

	job, err := reconcile.NewJob(tokenSet.ID, domain.TriggerNewOrder, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return SubmitResult{}, err
	}

	s.logger.Info("order ingested",
		"order", orderID, "kind", order.Kind, "side", order.Side,
		"token_set", tokenSet.ID, "price", order.Price, "source", order.Source)

	return SubmitResult{Status: StatusSuccess, OrderID: orderID}, nil
}

// weiPerEth normalizes raw 18-decimal currency units.
var weiPerEth = decimal.New(1, 18)

// normalize builds the canonical order row from the validated submission.
func (s *Service) normalize(ctx context.Context, raw RawOrder, orderID string, tokenSet domain.TokenSet) (domain.Order, error) {
	rawPrice, ok := new(big.Int).SetString(raw.Price, 10)
	if !ok || rawPrice.Sign() <= 0 {
		return domain.Order{}, fmt.Errorf("ingest: %w: bad price %q", domain.ErrInvalidOrder, raw.Price)
	}

	price := decimal.NewFromBigInt(rawPrice, 0).Div(weiPerEth)

	feeBps := raw.FeeBps
	missingRoyaltyBps := 0
	collection, err := s.collections.GetByID(ctx, tokenSet.CollectionID)
	switch {
	case err == nil:
		if collection.RoyaltyBps > raw.RoyaltyBps {
			missingRoyaltyBps = collection.RoyaltyBps - raw.RoyaltyBps
		}
	case errors.Is(err, domain.ErrNotFound):
		// Collection not tracked yet; royalty top-up starts at zero.
	default:
		return domain.Order{}, err
	}

	// Value ranks bids net of what the seller would actually receive.
	value := price
	if raw.Side == domain.SideBuy {
		netBps := 10000 - feeBps - missingRoyaltyBps
		if netBps < 0 {
			netBps = 0
		}
		value = price.Mul(decimal.New(int64(netBps), -4))
	}

	quantity := raw.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	var validUntil time.Time
	if raw.ValidUntil != 0 {
		validUntil = time.Unix(raw.ValidUntil, 0).UTC()
	}

	return domain.Order{
		ID:                orderID,
		Kind:              raw.Kind,
		Side:              raw.Side,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		TokenSetID:        tokenSet.ID,
		Maker:             strings.ToLower(raw.Maker),
		Taker:             strings.ToLower(raw.Taker),
		RawPrice:          rawPrice,
		Price:             price,
		Value:             value,
		Currency:          strings.ToLower(raw.Currency),
		ValidFrom:         time.Unix(raw.ValidFrom, 0).UTC(),
		ValidUntil:        validUntil,
		QuantityRemaining: quantity,
		Nonce:             raw.Nonce,
		FeeBps:            feeBps,
		MissingRoyaltyBps: missingRoyaltyBps,
		Source:            raw.Source,
	}, nil
}

// persistTarget upserts the token set and, for single-token targets, the
// token row itself so a first-seen token is immediately linked.
func (s *Service) persistTarget(ctx context.Context, raw RawOrder, tokenSet domain.TokenSet) error {
	if err := s.sets.Upsert(ctx, tokenSet); err != nil {
		return err
	}
	if tokenSet.Kind == domain.TokenSetSingle {
		return s.tokens.Upsert(ctx, domain.Token{
			Contract:     tokenSet.Contract,
			TokenID:      tokenSet.TokenID,
			CollectionID: tokenSet.CollectionID,
		})
	}
	return nil
}
