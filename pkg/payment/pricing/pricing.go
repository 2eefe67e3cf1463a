// Package pricing wraps pkg/money's pure conversions with live oracle
// calls, caching each quantity in process with a short TTL and falling
// back to the last-known value (logged with its fetch time) when the
// upstream feed is unreachable, per spec §4.1. No maximum age is
// applied to that fallback value.
package pricing

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/money"
)

// FiatOracle resolves fiat/native/stablecoin exchange rates. The
// blockchain-native price-per-unit feed comes from chaingateway.Client
// directly; this interface covers the token→fiat and stablecoin legs,
// which are external feeds outside the chain gateway's scope.
type FiatOracle interface {
	USDPerNative(ctx context.Context) (decimal.Decimal, error)
	FiatPerUSD(ctx context.Context, currency string) (decimal.Decimal, error)
	USDPerStablecoin(ctx context.Context, network string) (decimal.Decimal, error)
}

// Config tunes caching and fee parameters.
type Config struct {
	Chain               chaingateway.Client
	Fiat                FiatOracle
	CacheTTL            time.Duration
	InfrastructureFeeBps int
	VolatilityBufferBps  int
	StablecoinFloorAtomic int64
	Logger              *log.Logger
}

// Service is the cached pricing façade used by the ledger engine, the
// gasless protocol, and the HTTP handlers that quote prices.
type Service struct {
	cfg   Config
	cache map[string]*cachedValue
	mu    sync.Mutex
}

type cachedValue struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// New builds a Service. Defaults CacheTTL to 60s (spec §4.1 ceiling)
// if unset or too large.
func New(cfg Config) *Service {
	if cfg.CacheTTL <= 0 || cfg.CacheTTL > 60*time.Second {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[pricing] ", log.LstdFlags)
	}
	return &Service{cfg: cfg, cache: make(map[string]*cachedValue)}
}

// cached fetches key via fetch, serving a cached value within TTL and
// falling back to the last-known value (however stale) if fetch fails.
func (s *Service) cached(ctx context.Context, key string, fetch func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	s.mu.Lock()
	entry, ok := s.cache[key]
	if ok && time.Since(entry.fetchedAt) < s.cfg.CacheTTL {
		v := entry.value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ok {
			s.cfg.Logger.Printf("oracle fetch failed for %s, serving stale value from %s: %v", key, entry.fetchedAt, err)
			return entry.value, nil
		}
		return decimal.Zero, fmt.Errorf("pricing: %s unavailable and no cached value: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = &cachedValue{value: v, fetchedAt: time.Now()}
	s.mu.Unlock()
	return v, nil
}

// PricePerUnitCredits samples the chain gateway's native-token price
// per BytesPerPricingUnit and converts it to credits.
func (s *Service) PricePerUnitCredits(ctx context.Context) (decimal.Decimal, error) {
	v, err := s.cached(ctx, "price_per_unit", func(ctx context.Context) (decimal.Decimal, error) {
		raw, err := s.cfg.Chain.PricePerUnit(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		native, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price-per-unit %q: %w", raw, err)
		}
		return money.NativeToCredits(native), nil
	})
	return v, err
}

func (s *Service) usdPerNative(ctx context.Context) (decimal.Decimal, error) {
	return s.cached(ctx, "usd_per_native", s.cfg.Fiat.USDPerNative)
}

func (s *Service) fiatPerUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	return s.cached(ctx, "fiat_per_usd:"+currency, func(ctx context.Context) (decimal.Decimal, error) {
		return s.cfg.Fiat.FiatPerUSD(ctx, currency)
	})
}

func (s *Service) usdPerStablecoin(ctx context.Context, network string) (decimal.Decimal, error) {
	return s.cached(ctx, "usd_per_stablecoin:"+network, func(ctx context.Context) (decimal.Decimal, error) {
		return s.cfg.Fiat.USDPerStablecoin(ctx, network)
	})
}

// CreditsForBytes implements the credits_for_bytes contract.
func (s *Service) CreditsForBytes(ctx context.Context, numBytes int64, exclusive []money.Adjustment) (money.Quote, error) {
	price, err := s.PricePerUnitCredits(ctx)
	if err != nil {
		return money.Quote{}, err
	}
	return money.CreditsForBytes(numBytes, price, s.cfg.InfrastructureFeeBps, exclusive), nil
}

// CreditsForFiat implements the credits_for_fiat contract.
func (s *Service) CreditsForFiat(ctx context.Context, amount decimal.Decimal, currency string, exclusive []money.Adjustment) (money.Quote, error) {
	fiatPerUSD, err := s.fiatPerUSD(ctx, currency)
	if err != nil {
		return money.Quote{}, err
	}
	usdPerNative, err := s.usdPerNative(ctx)
	if err != nil {
		return money.Quote{}, err
	}
	return money.CreditsForFiat(amount, fiatPerUSD, usdPerNative, s.cfg.InfrastructureFeeBps, exclusive), nil
}

// CreditsForCrypto implements the credits_for_crypto contract.
// nativeAmount is already denominated in native-token units.
func (s *Service) CreditsForCrypto(_ context.Context, nativeAmount decimal.Decimal, feeMode money.FeeMode) money.Quote {
	return money.CreditsForCrypto(nativeAmount, feeMode, s.cfg.InfrastructureFeeBps)
}

// StablecoinForCredits implements the stablecoin_for_credits contract
// for a specific enabled network's stablecoin.
func (s *Service) StablecoinForCredits(ctx context.Context, network string, credits decimal.Decimal) (*big.Int, error) {
	usdPerNative, err := s.usdPerNative(ctx)
	if err != nil {
		return nil, err
	}
	usdPerStablecoin, err := s.usdPerStablecoin(ctx, network)
	if err != nil {
		return nil, err
	}
	atomic := money.StablecoinForCredits(credits, usdPerNative, usdPerStablecoin, s.cfg.VolatilityBufferBps, s.cfg.StablecoinFloorAtomic)
	return atomic, nil
}

// AtomicToCredits is the inverse of StablecoinForCredits, used at
// gasless-payment accept time.
func (s *Service) AtomicToCredits(ctx context.Context, network string, atomic *big.Int) (decimal.Decimal, error) {
	usdPerNative, err := s.usdPerNative(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	usdPerStablecoin, err := s.usdPerStablecoin(ctx, network)
	if err != nil {
		return decimal.Zero, err
	}
	return money.AtomicToCredits(atomic, usdPerNative, usdPerStablecoin), nil
}
