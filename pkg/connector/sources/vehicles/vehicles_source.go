// Package vehicles syncs safety recalls from the NHTSA recalls API for a
// configured set of vehicles. The API is keyless and unpaginated: one
// request per (make, model, year) returns all recalls for that vehicle.
// Recalls without a campaign number cannot be keyed and are skipped.
package vehicles

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const defaultBaseURL = "https://api.nhtsa.gov/recalls/recallsByVehicle"

// vehicle identifies one make/model/year combination to query.
type vehicle struct {
	Make  string
	Model string
	Year  string
}

// VehiclesSource pulls recall campaigns for the configured vehicles.
type VehiclesSource struct {
	*base.BaseConnector

	baseURL  string
	vehicles []vehicle
}

type recallsResponse struct {
	Count   int      `json:"Count"`
	Results []recall `json:"results"`
}

type recall struct {
	Manufacturer           string `json:"Manufacturer"`
	CampaignNumber         string `json:"NHTSACampaignNumber"`
	Component              string `json:"Component"`
	Summary                string `json:"Summary"`
	Consequence            string `json:"Consequence"`
	Remedy                 string `json:"Remedy"`
	ReportReceivedDate     string `json:"ReportReceivedDate"`
	ModelYear              string `json:"ModelYear"`
	Make                   string `json:"Make"`
	Model                  string `json:"Model"`
	ParkIt                 bool   `json:"parkIt"`
	ParkOutside            bool   `json:"parkOutSide"`
	OverTheAirUpdate       bool   `json:"overTheAirUpdate"`
	PotentialUnitsAffected int    `json:"potentialNumberofUnitsAffected"`
}

// NewVehiclesSource creates the connector.
func NewVehiclesSource() *VehiclesSource {
	return &VehiclesSource{
		BaseConnector: base.NewBaseConnector("vehicles", "1.0.0"),
	}
}

// Initialize reads the vehicle lists. The makes, models, and years settings
// are parallel comma-separated lists.
func (s *VehiclesSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	s.baseURL = cfg.GetString("base_url", defaultBaseURL)

	makes := cfg.GetStringSlice("makes", []string{"acura"})
	models := cfg.GetStringSlice("models", []string{"rdx"})
	years := cfg.GetStringSlice("years", []string{"2012"})
	if len(makes) != len(models) || len(makes) != len(years) {
		return errors.New(errors.ErrorTypeConfig,
			"makes, models, and years must have the same length")
	}

	s.vehicles = s.vehicles[:0]
	for i := range makes {
		s.vehicles = append(s.vehicles, vehicle{
			Make:  makes[i],
			Model: models[i],
			Year:  years[i],
		})
	}
	return nil
}

// Schema declares the recall table, keyed by the NHTSA campaign number.
func (s *VehiclesSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "recall",
			PrimaryKey: []string{"recall_id"},
			Columns: map[string]core.ColumnType{
				"recall_id":                core.ColumnTypeString,
				"manufacturer":             core.ColumnTypeString,
				"component":                core.ColumnTypeString,
				"summary":                  core.ColumnTypeString,
				"consequence":              core.ColumnTypeString,
				"remedy":                   core.ColumnTypeString,
				"report_received_date":     core.ColumnTypeString,
				"model_year":               core.ColumnTypeString,
				"make":                     core.ColumnTypeString,
				"model":                    core.ColumnTypeString,
				"park_it":                  core.ColumnTypeBoolean,
				"park_outside":             core.ColumnTypeBoolean,
				"over_the_air_update":      core.ColumnTypeBoolean,
				"potential_units_affected": core.ColumnTypeInt,
			},
		},
	}, nil
}

// Update fetches the recall list for each configured vehicle.
func (s *VehiclesSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(64, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *VehiclesSource) sync(ctx context.Context, emit *base.Emitter) error {
	log := s.GetLogger()

	for _, v := range s.vehicles {
		params := map[string]string{
			"make":      v.Make,
			"model":     v.Model,
			"modelYear": v.Year,
		}

		var resp recallsResponse
		if err := s.REST().GetJSON(ctx, s.baseURL, params, nil, &resp); err != nil {
			return err
		}

		emitted := 0
		for _, r := range resp.Results {
			if r.CampaignNumber == "" {
				log.Warn("recall missing campaign number, skipping",
					zap.String("make", v.Make),
					zap.String("model", v.Model))
				s.Metrics().RecordSkipped("recall")
				continue
			}
			record := map[string]interface{}{
				"recall_id":                r.CampaignNumber,
				"manufacturer":             r.Manufacturer,
				"component":                r.Component,
				"summary":                  r.Summary,
				"consequence":              r.Consequence,
				"remedy":                   r.Remedy,
				"report_received_date":     r.ReportReceivedDate,
				"model_year":               r.ModelYear,
				"make":                     r.Make,
				"model":                    r.Model,
				"park_it":                  r.ParkIt,
				"park_outside":             r.ParkOutside,
				"over_the_air_update":      r.OverTheAirUpdate,
				"potential_units_affected": r.PotentialUnitsAffected,
			}
			if err := emit.Upsert(ctx, "recall", record); err != nil {
				return err
			}
			emitted++
		}

		log.Info("vehicle recalls synced",
			zap.String("make", v.Make),
			zap.String("model", v.Model),
			zap.String("year", v.Year),
			zap.Int("recalls", emitted))
	}

	return emit.Checkpoint(ctx, core.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339),
	})
}

var _ core.Source = (*VehiclesSource)(nil)
