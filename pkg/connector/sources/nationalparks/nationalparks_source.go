// Package nationalparks syncs parks, fees/passes, and notable people from
// the US National Park Service API. All three endpoints share the same
// offset-based envelope (total, limit, start, data), so one pagination loop
// drives them all. Each endpoint's offset is checkpointed after every page,
// and items without an id are skipped rather than failing the sync.
package nationalparks

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const (
	defaultBaseURL  = "https://developer.nps.gov/api/v1"
	defaultPageSize = 50
)

// endpoints maps destination tables to NPS API paths.
var endpoints = []struct {
	table string
	path  string
}{
	{"parks", "/parks"},
	{"feespasses", "/feespasses"},
	{"people", "/people"},
}

// NationalParksSource pulls the three NPS collections.
type NationalParksSource struct {
	*base.BaseConnector

	apiKey   string
	baseURL  string
	pageSize int
}

// listResponse is the shared NPS envelope. Total arrives as a string.
type listResponse struct {
	Total string                   `json:"total"`
	Data  []map[string]interface{} `json:"data"`
}

// NewNationalParksSource creates the connector.
func NewNationalParksSource() *NationalParksSource {
	return &NationalParksSource{
		BaseConnector: base.NewBaseConnector("nationalparks", "1.0.0"),
	}
}

// Initialize validates the API key.
func (s *NationalParksSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	apiKey, err := cfg.RequireString("api_key")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "nationalparks connector")
	}
	s.apiKey = apiKey
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.pageSize = cfg.GetInt("page_size", defaultPageSize)
	return nil
}

// Schema declares the three collection tables. Non-key columns are inferred
// from the records, which carry deeply nested NPS payloads.
func (s *NationalParksSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	schemas := make([]*core.TableSchema, 0, len(endpoints))
	for _, ep := range endpoints {
		schemas = append(schemas, &core.TableSchema{
			Table:      ep.table,
			PrimaryKey: []string{"id"},
			Columns: map[string]core.ColumnType{
				"id": core.ColumnTypeString,
			},
		})
	}
	return schemas, nil
}

// Update pages through every endpoint, resuming each from its saved offset.
func (s *NationalParksSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(128, config.CheckpointPage)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, state, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *NationalParksSource) sync(ctx context.Context, state core.State, emit *base.Emitter) error {
	offsets := make(map[string]int, len(endpoints))
	for _, ep := range endpoints {
		offsets[ep.table] = state.GetInt("offset_"+ep.table, 0)
	}

	for _, ep := range endpoints {
		if err := s.syncEndpoint(ctx, emit, ep.table, ep.path, offsets); err != nil {
			return err
		}
	}
	return nil
}

func (s *NationalParksSource) syncEndpoint(ctx context.Context, emit *base.Emitter, table, path string, offsets map[string]int) error {
	log := s.GetLogger().With(zap.String("table", table))
	start := offsets[table]
	maxPages := s.GetConfig().Reliability.MaxPages

	for page := 0; page < maxPages; page++ {
		params := map[string]string{
			"api_key": s.apiKey,
			"limit":   strconv.Itoa(s.pageSize),
			"start":   strconv.Itoa(start),
		}

		var resp listResponse
		if err := s.REST().GetJSON(ctx, s.baseURL+path, params, nil, &resp); err != nil {
			return err
		}

		for _, item := range resp.Data {
			id, _ := item["id"].(string)
			if id == "" {
				log.Warn("item missing id, skipping")
				s.Metrics().RecordSkipped(table)
				continue
			}
			if err := emit.Upsert(ctx, table, item); err != nil {
				return err
			}
		}

		start += len(resp.Data)
		offsets[table] = start
		if err := emit.EndPage(ctx, offsetState(offsets)); err != nil {
			return err
		}

		total, _ := strconv.Atoi(resp.Total)
		log.Debug("page complete",
			zap.Int("fetched", start),
			zap.Int("total", total))

		if len(resp.Data) == 0 || (total > 0 && start >= total) {
			return nil
		}
	}

	return errors.Newf(errors.ErrorTypeData,
		"%s pagination exceeded %d pages", table, maxPages)
}

func offsetState(offsets map[string]int) core.State {
	state := make(core.State, len(offsets))
	for table, offset := range offsets {
		state["offset_"+table] = offset
	}
	return state
}

var _ core.Source = (*NationalParksSource)(nil)
