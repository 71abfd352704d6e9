// Package qbr syncs quarterly business review records from the sales demo
// API. The API pages with an opaque cursor: each response carries a batch of
// qbr_records and a next_cursor, and a missing next_cursor or empty batch
// marks the final page. The cursor is checkpointed after every page so an
// interrupted sync resumes from the last completed page.
//
// The API returns booleans as strings and dates in mixed layouts, so records
// are coerced into the declared column types before they are emitted.
package qbr

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const (
	defaultBaseURL  = "https://sdk-demo-api-dot-internal-sales.uc.r.appspot.com/qbr_data"
	defaultPageSize = 200
)

// primaryKey is the composite key of the qbr_data table. Items missing any
// of these fields cannot be keyed and are skipped.
var primaryKey = []string{"company_id", "qbr_quarter", "qbr_year"}

// booleanFields arrive as "true"/"false" strings and are coerced to bools.
var booleanFields = []string{
	"success_metrics_defined", "roi_calculated", "economic_buyer_identified",
	"executive_sponsor_engaged", "decision_process_documented",
	"next_steps_defined", "decision_timeline_clear", "technical_criteria_met",
	"business_criteria_met", "champion_identified",
}

// dateFields are normalized to RFC 3339 UTC datetimes.
var dateFields = []string{"contract_start_date", "contract_expiration_date"}

// QBRSource pulls QBR records page by page.
type QBRSource struct {
	*base.BaseConnector

	apiKey   string
	baseURL  string
	pageSize int
}

// pageResponse is one page of the qbr_data endpoint.
type pageResponse struct {
	Records    []map[string]interface{} `json:"qbr_records"`
	NextCursor *string                  `json:"next_cursor"`
}

// NewQBRSource creates the connector.
func NewQBRSource() *QBRSource {
	return &QBRSource{
		BaseConnector: base.NewBaseConnector("qbr", "1.0.0"),
	}
}

// Initialize validates configuration and prepares the API client.
func (s *QBRSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	apiKey, err := cfg.RequireString("api_key")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "qbr connector")
	}
	s.apiKey = apiKey
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.pageSize = cfg.GetInt("page_size", defaultPageSize)
	if s.pageSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "page_size must be positive")
	}

	return nil
}

// Schema declares the qbr_data table, keyed by company and review quarter.
func (s *QBRSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "qbr_data",
			PrimaryKey: primaryKey,
			Columns: map[string]core.ColumnType{
				"company_id":                  core.ColumnTypeString,
				"company_name":                core.ColumnTypeString,
				"industry":                    core.ColumnTypeString,
				"size":                        core.ColumnTypeString,
				"contract_value":              core.ColumnTypeNumber,
				"contract_start_date":         core.ColumnTypeUTCDatetime,
				"contract_expiration_date":    core.ColumnTypeUTCDatetime,
				"qbr_quarter":                 core.ColumnTypeString,
				"qbr_year":                    core.ColumnTypeString,
				"deal_stage":                  core.ColumnTypeString,
				"renewal_probability":         core.ColumnTypeInt,
				"upsell_opportunity":          core.ColumnTypeString,
				"active_users":                core.ColumnTypeInt,
				"feature_adoption_rate":       core.ColumnTypeFloat,
				"custom_integrations":         core.ColumnTypeInt,
				"pending_feature_requests":    core.ColumnTypeInt,
				"ticket_volume":               core.ColumnTypeInt,
				"avg_resolution_time_hours":   core.ColumnTypeFloat,
				"csat_score":                  core.ColumnTypeFloat,
				"sla_compliance_rate":         core.ColumnTypeFloat,
				"success_metrics_defined":     core.ColumnTypeBoolean,
				"roi_calculated":              core.ColumnTypeBoolean,
				"estimated_roi_value":         core.ColumnTypeString,
				"economic_buyer_identified":   core.ColumnTypeBoolean,
				"executive_sponsor_engaged":   core.ColumnTypeBoolean,
				"decision_maker_level":        core.ColumnTypeString,
				"decision_process_documented": core.ColumnTypeBoolean,
				"next_steps_defined":          core.ColumnTypeBoolean,
				"decision_timeline_clear":     core.ColumnTypeBoolean,
				"technical_criteria_met":      core.ColumnTypeBoolean,
				"business_criteria_met":       core.ColumnTypeBoolean,
				"success_criteria_defined":    core.ColumnTypeString,
				"pain_points_documented":      core.ColumnTypeString,
				"pain_impact_level":           core.ColumnTypeString,
				"urgency_level":               core.ColumnTypeString,
				"champion_identified":         core.ColumnTypeBoolean,
				"champion_level":              core.ColumnTypeString,
				"champion_engagement_score":   core.ColumnTypeInt,
				"competitive_situation":       core.ColumnTypeString,
				"competitive_position":        core.ColumnTypeString,
				"health_score":                core.ColumnTypeFloat,
			},
		},
	}, nil
}

// Update resumes from the checkpointed cursor and pages to the end.
func (s *QBRSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(64, config.CheckpointPage)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, state, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *QBRSource) sync(ctx context.Context, state core.State, emit *base.Emitter) error {
	log := s.GetLogger()
	cursor := state.GetString("cursor", "")
	requestCount := state.GetInt("request_count", 0)

	maxPages := s.GetConfig().Reliability.MaxPages
	for page := 0; page < maxPages; page++ {
		params := map[string]string{
			"page_size": strconv.Itoa(s.pageSize),
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		headers := map[string]string{
			"api_key": s.apiKey,
		}

		var resp pageResponse
		if err := s.REST().GetJSON(ctx, s.baseURL, params, headers, &resp); err != nil {
			return err
		}
		requestCount++

		if len(resp.Records) == 0 {
			log.Info("no more records to process")
			// every successful run checkpoints at least once, even when
			// the dataset is empty
			return emit.Checkpoint(ctx, core.State{
				"cursor":        cursor,
				"request_count": requestCount,
			})
		}

		for _, raw := range resp.Records {
			record, ok := normalizeRecord(raw)
			if !ok {
				log.Warn("record missing primary key fields, skipping")
				s.Metrics().RecordSkipped("qbr_data")
				continue
			}
			if err := emit.Upsert(ctx, "qbr_data", record); err != nil {
				return err
			}
		}

		next := ""
		if resp.NextCursor != nil {
			next = *resp.NextCursor
		}
		cursor = next

		// Cursor advances even when the page is the last one, so a resumed
		// sync asks for records after everything already delivered.
		pageState := core.State{
			"cursor":        cursor,
			"request_count": requestCount,
		}
		if err := emit.EndPage(ctx, pageState); err != nil {
			return err
		}

		log.Debug("page complete",
			zap.Int("records", len(resp.Records)),
			zap.Int("request_count", requestCount),
			zap.Bool("has_more", next != ""))

		if next == "" {
			return nil
		}
	}

	return errors.Newf(errors.ErrorTypeData,
		"pagination exceeded %d pages without a final page", maxPages)
}

// normalizeRecord coerces loosely typed API fields into the declared column
// types: stringly booleans become real booleans and contract dates are
// normalized to RFC 3339. The second return is false when a primary key
// field is missing or empty.
func normalizeRecord(raw map[string]interface{}) (map[string]interface{}, bool) {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	for _, pk := range primaryKey {
		v, ok := out[pk]
		if !ok || v == nil || v == "" {
			return nil, false
		}
	}

	for _, field := range booleanFields {
		if v, ok := out[field]; ok {
			out[field] = coerceBool(v)
		}
	}
	for _, field := range dateFields {
		if v, ok := out[field].(string); ok {
			out[field] = normalizeDate(v)
		}
	}
	return out, true
}

func coerceBool(v interface{}) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// normalizeDate expands date strings to RFC 3339 UTC datetimes. Values that
// don't parse are passed through unchanged.
func normalizeDate(v string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	return v
}

var _ core.Source = (*QBRSource)(nil)
