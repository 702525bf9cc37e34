// Package providers implements the broker-specific OHLC fetch clients (C5):
// one typed http.Client per broker, each building a broker-specific URL,
// decoding a broker-specific JSON shape, and normalizing the result into the
// shared Candle type. Modeled on the request/parse/normalize shape of
// trader-go/internal/clients/yahoo/client.go.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Candle is the normalized OHLCV row every broker client produces.
type Candle struct {
	T int64 // unix seconds
	O float64
	H float64
	L float64
	C float64
	V float64
}

// Broker identifies which upstream client fetch_ohcl dispatches to.
type Broker string

const (
	BrokerSSI     Broker = "ssi"
	BrokerDNSE    Broker = "dnse"
	BrokerDragon  Broker = "dragon"
	BrokerBinance Broker = "binance"
	BrokerStock   Broker = "stock"  // alias, resolves via config
	BrokerCrypto  Broker = "crypto" // alias, resolves via config
	BrokerVPS     Broker = "vps"
)

var (
	ErrUnknownBroker  = errors.New("providers: unknown broker")
	ErrUpstreamStatus = errors.New("providers: upstream returned non-2xx status")
	ErrMalformedBody  = errors.New("providers: malformed response body")
)

// indexSymbols switches the Dragon/DNSE URL path segment from "stock" to
// "index" per spec.md §4.5.
var indexSymbols = map[string]bool{
	"VNINDEX":  true,
	"HNXINDEX": true,
	"VN30":     true,
}

func isIndexSymbol(symbol string) bool {
	return indexSymbols[symbol]
}

// Request bundles the parameters of a fetch_ohcl call.
type Request struct {
	Symbol     string
	Resolution string
	From       int64 // unix seconds
	To         int64 // unix seconds
	Limit      int
}

// Resolver resolves the "stock"/"crypto" aliases to a concrete broker name,
// mirroring internal/config.Config.ResolveBroker.
type Resolver interface {
	ResolveBroker(broker string) string
}

// Registry holds one constructed client per concrete broker and dispatches
// fetch_ohcl by name.
type Registry struct {
	ssi     *SSIClient
	dnse    *DNSEClient
	dragon  *DragonClient
	binance *BinanceClient
	vps     *VPSClient
	tcbs    *TCBSClient
	fireant *FireantClient

	resolver Resolver
	log      zerolog.Logger
}

// Clients bundles the constructed per-broker clients for NewRegistry.
type Clients struct {
	SSI      *SSIClient
	DNSE     *DNSEClient
	Dragon   *DragonClient
	Binance  *BinanceClient
	VPS      *VPSClient
	TCBS     *TCBSClient
	Fireant  *FireantClient
	Resolver Resolver
}

// NewRegistry constructs a Registry from already-built broker clients.
func NewRegistry(c Clients, log zerolog.Logger) *Registry {
	return &Registry{
		ssi:      c.SSI,
		dnse:     c.DNSE,
		dragon:   c.Dragon,
		binance:  c.Binance,
		vps:      c.VPS,
		tcbs:     c.TCBS,
		fireant:  c.Fireant,
		resolver: c.Resolver,
		log:      log.With().Str("component", "providers").Logger(),
	}
}

// FetchOHCL dispatches to the named broker's client, resolving the "stock"
// and "crypto" aliases first. Every broker call carries ctx's deadline as
// its per-call timeout.
func (r *Registry) FetchOHCL(ctx context.Context, broker string, req Request) ([]Candle, error) {
	resolved := broker
	if (broker == string(BrokerStock) || broker == string(BrokerCrypto)) && r.resolver != nil {
		resolved = r.resolver.ResolveBroker(broker)
	}

	switch Broker(resolved) {
	case BrokerSSI:
		if r.ssi == nil {
			return nil, fmt.Errorf("%w: ssi client not configured", ErrUnknownBroker)
		}
		return r.ssi.FetchOHCL(ctx, req)
	case BrokerDNSE:
		if r.dnse == nil {
			return nil, fmt.Errorf("%w: dnse client not configured", ErrUnknownBroker)
		}
		return r.dnse.FetchOHCL(ctx, req)
	case BrokerDragon:
		if r.dragon == nil {
			return nil, fmt.Errorf("%w: dragon client not configured", ErrUnknownBroker)
		}
		return r.dragon.FetchOHCL(ctx, req)
	case BrokerBinance:
		if r.binance == nil {
			return nil, fmt.Errorf("%w: binance client not configured", ErrUnknownBroker)
		}
		return r.binance.FetchOHCL(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBroker, resolved)
	}
}

// VPS returns the registry's configured VPS client, or nil if none was
// supplied to NewRegistry.
func (r *Registry) VPS() *VPSClient { return r.vps }

// TCBS returns the registry's configured TCBS client, or nil if none was
// supplied to NewRegistry.
func (r *Registry) TCBS() *TCBSClient { return r.tcbs }

// Fireant returns the registry's configured Fireant client, or nil if none
// was supplied to NewRegistry.
func (r *Registry) Fireant() *FireantClient { return r.fireant }

// ListSymbols dispatches a symbol-listing request by broker and product
// (e.g. broker="vps", product="VN30"), backing the BFF's symbol-listing
// endpoints per spec.md §6.
func (r *Registry) ListSymbols(ctx context.Context, broker, product string) ([]string, error) {
	switch Broker(broker) {
	case BrokerVPS:
		if r.vps == nil {
			return nil, fmt.Errorf("%w: vps client not configured", ErrUnknownBroker)
		}
		return r.vps.ListSymbols(ctx, product)
	default:
		return nil, fmt.Errorf("%w: symbol listing not supported for broker %s", ErrUnknownBroker, broker)
	}
}
