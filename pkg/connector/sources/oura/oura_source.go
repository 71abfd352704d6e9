// Package oura syncs daily wellness summaries from the Oura Ring v2 API.
// Four collections (sleep, activity, readiness, stress) share the same
// date-windowed, token-paginated shape. The first sync covers a trailing
// window (30 days by default); later syncs resume from the checkpointed
// last_sync_date so only new days are fetched.
//
// Authentication is a personal access token sent as a Bearer credential via
// an oauth2 transport layered under the shared REST client.
package oura

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const (
	defaultBaseURL    = "https://api.ouraring.com/v2/usercollection"
	defaultWindowDays = 30
	dateLayout        = "2006-01-02"
)

// collections maps destination tables to Oura API paths.
var collections = []struct {
	table string
	path  string
}{
	{"daily_sleep", "/daily_sleep"},
	{"daily_activity", "/daily_activity"},
	{"daily_readiness", "/daily_readiness"},
	{"daily_stress", "/daily_stress"},
}

// OuraSource pulls the four daily collections.
type OuraSource struct {
	*base.BaseConnector

	baseURL    string
	windowDays int
}

// listResponse is the shared Oura envelope.
type listResponse struct {
	Data      []map[string]interface{} `json:"data"`
	NextToken *string                  `json:"next_token"`
}

// NewOuraSource creates the connector.
func NewOuraSource() *OuraSource {
	return &OuraSource{
		BaseConnector: base.NewBaseConnector("oura", "1.0.0"),
	}
}

// Initialize validates the access token and installs the Bearer transport.
func (s *OuraSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	token, err := cfg.RequireString("access_token")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "oura connector")
	}
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.windowDays = cfg.GetInt("window_days", defaultWindowDays)

	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
	s.REST().SetHTTPClient(&http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: s.REST().Transport()},
		Timeout:   cfg.HTTP.RequestTimeout,
	})

	return nil
}

// Schema declares the four daily collection tables. Beyond the id and day,
// each collection carries its own score and contributor fields, which are
// inferred from the records.
func (s *OuraSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	schemas := make([]*core.TableSchema, 0, len(collections))
	for _, c := range collections {
		schemas = append(schemas, &core.TableSchema{
			Table:      c.table,
			PrimaryKey: []string{"id"},
			Columns: map[string]core.ColumnType{
				"id":  core.ColumnTypeString,
				"day": core.ColumnTypeNaiveDate,
			},
		})
	}
	return schemas, nil
}

// Update fetches the date window for every collection.
func (s *OuraSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(128, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, state, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *OuraSource) sync(ctx context.Context, state core.State, emit *base.Emitter) error {
	now := time.Now().UTC()
	endDate := now.Format(dateLayout)

	startDate := state.GetString("last_sync_date", "")
	if startDate == "" {
		startDate = now.AddDate(0, 0, -s.windowDays).Format(dateLayout)
	}

	for _, c := range collections {
		if err := s.syncCollection(ctx, emit, c.table, c.path, startDate, endDate); err != nil {
			return err
		}
	}

	return emit.Checkpoint(ctx, core.State{"last_sync_date": endDate})
}

func (s *OuraSource) syncCollection(ctx context.Context, emit *base.Emitter, table, path, startDate, endDate string) error {
	log := s.GetLogger().With(zap.String("table", table))
	maxPages := s.GetConfig().Reliability.MaxPages

	nextToken := ""
	total := 0
	for page := 0; page < maxPages; page++ {
		params := map[string]string{
			"start_date": startDate,
			"end_date":   endDate,
		}
		if nextToken != "" {
			params["next_token"] = nextToken
		}

		var resp listResponse
		if err := s.REST().GetJSON(ctx, s.baseURL+path, params, nil, &resp); err != nil {
			return err
		}

		for _, item := range resp.Data {
			if err := emit.Upsert(ctx, table, item); err != nil {
				return err
			}
		}
		total += len(resp.Data)

		if resp.NextToken == nil || *resp.NextToken == "" {
			log.Info("collection synced",
				zap.Int("records", total),
				zap.String("start_date", startDate),
				zap.String("end_date", endDate))
			return nil
		}
		nextToken = *resp.NextToken
	}

	return errors.Newf(errors.ErrorTypeData,
		"%s pagination exceeded %d pages", table, maxPages)
}

var _ core.Source = (*OuraSource)(nil)
