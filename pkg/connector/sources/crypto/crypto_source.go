// Package crypto syncs spot prices for a configurable list of
// cryptocurrencies from the CoinGecko public API. The free tier is heavily
// rate limited, so requests are paced through the shared client's token
// bucket (one request per six seconds by default) and 429 responses honor
// the server's Retry-After header.
package crypto

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3/simple/price"

// defaultCoins is the default tracked set; override with the "coins"
// setting (comma separated CoinGecko ids).
var defaultCoins = []string{
	"bitcoin", "ethereum", "tether", "binancecoin", "solana",
	"ripple", "usd-coin", "cardano", "dogecoin", "avalanche-2",
}

// CryptoSource pulls current prices for the tracked coins.
type CryptoSource struct {
	*base.BaseConnector

	baseURL    string
	coins      []string
	vsCurrency string
}

// priceEntry is the per-coin payload of the simple/price endpoint.
type priceEntry struct {
	USD           float64 `json:"usd"`
	MarketCap     float64 `json:"usd_market_cap"`
	Vol24h        float64 `json:"usd_24h_vol"`
	Change24h     float64 `json:"usd_24h_change"`
	LastUpdatedAt int64   `json:"last_updated_at"`
}

// NewCryptoSource creates the connector.
func NewCryptoSource() *CryptoSource {
	return &CryptoSource{
		BaseConnector: base.NewBaseConnector("crypto", "1.0.0"),
	}
}

// Initialize reads the coin list and enables free-tier pacing when the
// configuration does not choose its own rate.
func (s *CryptoSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if cfg != nil && cfg.HTTP.RateLimitPerSec == 0 {
		// one request per 6 seconds keeps the free tier happy
		cfg.HTTP.RateLimitPerSec = 1.0 / 6.0
		cfg.HTTP.RateBurst = 1
	}
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.coins = cfg.GetStringSlice("coins", defaultCoins)
	s.vsCurrency = cfg.GetString("vs_currency", "usd")
	return nil
}

// Schema declares the price table. Each sync appends one row per coin keyed
// by the coin id and the API's last-update timestamp, preserving history.
func (s *CryptoSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "price",
			PrimaryKey: []string{"coin", "last_updated_at"},
			Columns: map[string]core.ColumnType{
				"coin":            core.ColumnTypeString,
				"last_updated_at": core.ColumnTypeLong,
				"usd":             core.ColumnTypeFloat,
				"usd_market_cap":  core.ColumnTypeFloat,
				"usd_24h_vol":     core.ColumnTypeFloat,
				"usd_24h_change":  core.ColumnTypeFloat,
			},
		},
	}, nil
}

// Update fetches one price per tracked coin.
func (s *CryptoSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(len(s.coins)+1, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *CryptoSource) sync(ctx context.Context, emit *base.Emitter) error {
	log := s.GetLogger()

	// One request per coin keeps failures isolated: a delisted id fails
	// alone instead of poisoning the whole batch.
	for _, coin := range s.coins {
		params := map[string]string{
			"ids":                     coin,
			"vs_currencies":           s.vsCurrency,
			"include_market_cap":      "true",
			"include_24hr_vol":        "true",
			"include_24hr_change":     "true",
			"include_last_updated_at": "true",
		}

		var resp map[string]priceEntry
		if err := s.REST().GetJSON(ctx, s.baseURL, params, nil, &resp); err != nil {
			return err
		}

		entry, ok := resp[coin]
		if !ok {
			log.Warn("coin missing from response, skipping", zap.String("coin", coin))
			continue
		}

		record := map[string]interface{}{
			"coin":            coin,
			"last_updated_at": entry.LastUpdatedAt,
			"usd":             entry.USD,
			"usd_market_cap":  entry.MarketCap,
			"usd_24h_vol":     entry.Vol24h,
			"usd_24h_change":  entry.Change24h,
		}
		if err := emit.Upsert(ctx, "price", record); err != nil {
			return err
		}
	}

	log.Info("prices synced", zap.Int("coins", len(s.coins)))

	return emit.Checkpoint(ctx, core.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339),
	})
}

var _ core.Source = (*CryptoSource)(nil)
