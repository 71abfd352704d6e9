// Package exchangerate syncs currency rates from the ExchangeRate-API v6.
// The API key rides in the URL path rather than a header or query
// parameter, so request logs must never include the full URL.
//
// Three tables are produced per sync: the full latest-rates fan-out for the
// configured base currency, the direct pair conversion for the configured
// pair, and a snapshot of the account's request quota.
package exchangerate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const defaultBaseURL = "https://v6.exchangerate-api.com/v6"

// ExchangeRateSource pulls latest, pair, and quota data.
type ExchangeRateSource struct {
	*base.BaseConnector

	apiKey         string
	baseURL        string
	baseCurrency   string
	targetCurrency string
}

type latestResponse struct {
	Result             string             `json:"result"`
	BaseCode           string             `json:"base_code"`
	TimeLastUpdateUnix int64              `json:"time_last_update_unix"`
	ConversionRates    map[string]float64 `json:"conversion_rates"`
}

type pairResponse struct {
	Result             string  `json:"result"`
	BaseCode           string  `json:"base_code"`
	TargetCode         string  `json:"target_code"`
	TimeLastUpdateUnix int64   `json:"time_last_update_unix"`
	ConversionRate     float64 `json:"conversion_rate"`
}

type quotaResponse struct {
	Result            string `json:"result"`
	PlanQuota         int64  `json:"plan_quota"`
	RequestsRemaining int64  `json:"requests_remaining"`
	RefreshDayOfMonth int    `json:"refresh_day_of_month"`
}

// NewExchangeRateSource creates the connector.
func NewExchangeRateSource() *ExchangeRateSource {
	return &ExchangeRateSource{
		BaseConnector: base.NewBaseConnector("exchangerate", "1.0.0"),
	}
}

// Initialize validates the API key and currency settings.
func (s *ExchangeRateSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	apiKey, err := cfg.RequireString("api_key")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "exchangerate connector")
	}
	s.apiKey = apiKey
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.baseCurrency = cfg.GetString("base_currency", "USD")
	s.targetCurrency = cfg.GetString("target_currency", "EUR")
	return nil
}

// Schema declares the three rate tables.
func (s *ExchangeRateSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "latest_rate",
			PrimaryKey: []string{"base_code", "target_code", "time_last_update_unix"},
			Columns: map[string]core.ColumnType{
				"base_code":             core.ColumnTypeString,
				"target_code":           core.ColumnTypeString,
				"time_last_update_unix": core.ColumnTypeLong,
				"rate":                  core.ColumnTypeFloat,
			},
		},
		{
			Table:      "pair_rate",
			PrimaryKey: []string{"base_code", "target_code", "time_last_update_unix"},
			Columns: map[string]core.ColumnType{
				"base_code":             core.ColumnTypeString,
				"target_code":           core.ColumnTypeString,
				"time_last_update_unix": core.ColumnTypeLong,
				"conversion_rate":       core.ColumnTypeFloat,
			},
		},
		{
			Table:      "quota",
			PrimaryKey: []string{"checked_at"},
			Columns: map[string]core.ColumnType{
				"checked_at":           core.ColumnTypeUTCDatetime,
				"plan_quota":           core.ColumnTypeLong,
				"requests_remaining":   core.ColumnTypeLong,
				"refresh_day_of_month": core.ColumnTypeInt,
			},
		},
	}, nil
}

// Update syncs all three endpoints.
func (s *ExchangeRateSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(256, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

// endpoint builds a request URL with the key in the path.
func (s *ExchangeRateSource) endpoint(parts ...interface{}) string {
	url := fmt.Sprintf("%s/%s", s.baseURL, s.apiKey)
	for _, p := range parts {
		url += fmt.Sprintf("/%v", p)
	}
	return url
}

func (s *ExchangeRateSource) sync(ctx context.Context, emit *base.Emitter) error {
	if err := s.syncLatest(ctx, emit); err != nil {
		return err
	}
	if err := s.syncPair(ctx, emit); err != nil {
		return err
	}
	if err := s.syncQuota(ctx, emit); err != nil {
		return err
	}

	return emit.Checkpoint(ctx, core.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *ExchangeRateSource) syncLatest(ctx context.Context, emit *base.Emitter) error {
	var resp latestResponse
	if err := s.REST().GetJSON(ctx, s.endpoint("latest", s.baseCurrency), nil, nil, &resp); err != nil {
		return err
	}
	if resp.Result != "success" {
		return errors.Newf(errors.ErrorTypeData, "latest rates returned result %q", resp.Result)
	}

	for target, rate := range resp.ConversionRates {
		record := map[string]interface{}{
			"base_code":             resp.BaseCode,
			"target_code":           target,
			"time_last_update_unix": resp.TimeLastUpdateUnix,
			"rate":                  rate,
		}
		if err := emit.Upsert(ctx, "latest_rate", record); err != nil {
			return err
		}
	}

	s.GetLogger().Info("latest rates synced",
		zap.String("base", resp.BaseCode),
		zap.Int("targets", len(resp.ConversionRates)))
	return nil
}

func (s *ExchangeRateSource) syncPair(ctx context.Context, emit *base.Emitter) error {
	var resp pairResponse
	if err := s.REST().GetJSON(ctx, s.endpoint("pair", s.baseCurrency, s.targetCurrency), nil, nil, &resp); err != nil {
		return err
	}
	if resp.Result != "success" {
		return errors.Newf(errors.ErrorTypeData, "pair conversion returned result %q", resp.Result)
	}

	return emit.Upsert(ctx, "pair_rate", map[string]interface{}{
		"base_code":             resp.BaseCode,
		"target_code":           resp.TargetCode,
		"time_last_update_unix": resp.TimeLastUpdateUnix,
		"conversion_rate":       resp.ConversionRate,
	})
}

func (s *ExchangeRateSource) syncQuota(ctx context.Context, emit *base.Emitter) error {
	var resp quotaResponse
	if err := s.REST().GetJSON(ctx, s.endpoint("quota"), nil, nil, &resp); err != nil {
		return err
	}
	if resp.Result != "success" {
		return errors.Newf(errors.ErrorTypeData, "quota returned result %q", resp.Result)
	}

	return emit.Upsert(ctx, "quota", map[string]interface{}{
		"checked_at":           time.Now().UTC().Format(time.RFC3339),
		"plan_quota":           resp.PlanQuota,
		"requests_remaining":   resp.RequestsRemaining,
		"refresh_day_of_month": resp.RefreshDayOfMonth,
	})
}

var _ core.Source = (*ExchangeRateSource)(nil)
