// Package solarsystem syncs celestial bodies from the Solar System OpenData
// API. The dataset is small and unversioned, so every sync is a full
// refresh of the bodies table, checkpointed with the sync timestamp.
package solarsystem

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

const defaultBaseURL = "https://api.le-systeme-solaire.net/rest/bodies/"

// SolarSystemSource pulls the full catalog of solar system bodies.
type SolarSystemSource struct {
	*base.BaseConnector

	baseURL string
}

type bodiesResponse struct {
	Bodies []body `json:"bodies"`
}

type body struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	EnglishName   string  `json:"englishName"`
	IsPlanet      bool    `json:"isPlanet"`
	BodyType      string  `json:"bodyType"`
	Gravity       float64 `json:"gravity"`
	MeanRadius    float64 `json:"meanRadius"`
	Density       float64 `json:"density"`
	DiscoveredBy  string  `json:"discoveredBy"`
	DiscoveryDate string  `json:"discoveryDate"`
}

// NewSolarSystemSource creates the connector.
func NewSolarSystemSource() *SolarSystemSource {
	return &SolarSystemSource{
		BaseConnector: base.NewBaseConnector("solarsystem", "1.0.0"),
	}
}

// Initialize prepares the API client. The API is public and keyless.
func (s *SolarSystemSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	return nil
}

// Schema declares the bodies table.
func (s *SolarSystemSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "bodies",
			PrimaryKey: []string{"id"},
			Columns: map[string]core.ColumnType{
				"id":             core.ColumnTypeString,
				"name":           core.ColumnTypeString,
				"english_name":   core.ColumnTypeString,
				"is_planet":      core.ColumnTypeBoolean,
				"body_type":      core.ColumnTypeString,
				"gravity":        core.ColumnTypeFloat,
				"mean_radius":    core.ColumnTypeFloat,
				"density":        core.ColumnTypeFloat,
				"discovered_by":  core.ColumnTypeString,
				"discovery_date": core.ColumnTypeString,
			},
		},
	}, nil
}

// Update performs a full refresh of the catalog.
func (s *SolarSystemSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(64, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *SolarSystemSource) sync(ctx context.Context, emit *base.Emitter) error {
	var resp bodiesResponse
	if err := s.REST().GetJSON(ctx, s.baseURL, nil, nil, &resp); err != nil {
		return err
	}

	for _, b := range resp.Bodies {
		record := map[string]interface{}{
			"id":             b.ID,
			"name":           b.Name,
			"english_name":   b.EnglishName,
			"is_planet":      b.IsPlanet,
			"body_type":      b.BodyType,
			"gravity":        b.Gravity,
			"mean_radius":    b.MeanRadius,
			"density":        b.Density,
			"discovered_by":  b.DiscoveredBy,
			"discovery_date": b.DiscoveryDate,
		}
		if err := emit.Upsert(ctx, "bodies", record); err != nil {
			return err
		}
	}

	s.GetLogger().Info("bodies synced", zap.Int("count", len(resp.Bodies)))

	return emit.Checkpoint(ctx, core.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339),
	})
}

var _ core.Source = (*SolarSystemSource)(nil)
