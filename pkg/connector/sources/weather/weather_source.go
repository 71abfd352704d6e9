// Package weather syncs forecast periods from the US National Weather
// Service gridpoint forecast API. Each sync fetches the current forecast and
// emits only the periods that start at or after the checkpointed cursor, so
// re-runs do not redeliver periods already synced; the cursor then advances
// to the end time of the newest delivered period.
package weather

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

const (
	defaultBaseURL = "https://api.weather.gov"
	defaultOffice  = "ILM"
	defaultGridX   = 58
	defaultGridY   = 40
)

// WeatherSource pulls NWS forecast periods for one gridpoint.
type WeatherSource struct {
	*base.BaseConnector

	baseURL string
	office  string
	gridX   int
	gridY   int
}

type forecastResponse struct {
	Properties struct {
		Periods []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Number           int    `json:"number"`
	Name             string `json:"name"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	IsDaytime        bool   `json:"isDaytime"`
	Temperature      int    `json:"temperature"`
	TemperatureUnit  string `json:"temperatureUnit"`
	WindSpeed        string `json:"windSpeed"`
	WindDirection    string `json:"windDirection"`
	ShortForecast    string `json:"shortForecast"`
	DetailedForecast string `json:"detailedForecast"`
}

// NewWeatherSource creates the connector.
func NewWeatherSource() *WeatherSource {
	return &WeatherSource{
		BaseConnector: base.NewBaseConnector("weather", "1.0.0"),
	}
}

// Initialize reads the gridpoint settings. The NWS API needs no credentials,
// only a descriptive User-Agent, which the shared client already sends.
func (s *WeatherSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.office = cfg.GetString("office", defaultOffice)
	s.gridX = cfg.GetInt("grid_x", defaultGridX)
	s.gridY = cfg.GetInt("grid_y", defaultGridY)
	return nil
}

// Schema declares the period table, keyed by the period start time.
func (s *WeatherSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "period",
			PrimaryKey: []string{"startTime"},
			Columns: map[string]core.ColumnType{
				"startTime":        core.ColumnTypeUTCDatetime,
				"endTime":          core.ColumnTypeUTCDatetime,
				"name":             core.ColumnTypeString,
				"isDaytime":        core.ColumnTypeBoolean,
				"temperature":      core.ColumnTypeInt,
				"temperatureUnit":  core.ColumnTypeString,
				"windSpeed":        core.ColumnTypeString,
				"windDirection":    core.ColumnTypeString,
				"shortForecast":    core.ColumnTypeString,
				"detailedForecast": core.ColumnTypeString,
			},
		},
	}, nil
}

// Update fetches the forecast and emits the periods past the saved cursor.
func (s *WeatherSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(32, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, state, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *WeatherSource) sync(ctx context.Context, state core.State, emit *base.Emitter) error {
	log := s.GetLogger()
	cursor := state.GetString("to_cursor", "")

	// Cursor comparison is on parsed instants, not strings: around a DST
	// change the zone offset shifts and lexical order diverges from time
	// order.
	var cursorTime time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339, cursor)
		if err != nil {
			log.Warn("discarding unparseable cursor", zap.String("to_cursor", cursor))
		} else {
			cursorTime = t
		}
	}

	url := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", s.baseURL, s.office, s.gridX, s.gridY)

	var resp forecastResponse
	if err := s.REST().GetJSON(ctx, url, nil, nil, &resp); err != nil {
		return err
	}

	emitted := 0
	newCursor := cursor
	newCursorTime := cursorTime
	for _, p := range resp.Properties.Periods {
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			log.Warn("period has unparseable startTime, skipping",
				zap.String("startTime", p.StartTime))
			s.Metrics().RecordSkipped("period")
			continue
		}
		if !cursorTime.IsZero() && start.Before(cursorTime) {
			continue
		}
		record := map[string]interface{}{
			"startTime":        p.StartTime,
			"endTime":          p.EndTime,
			"name":             p.Name,
			"isDaytime":        p.IsDaytime,
			"temperature":      p.Temperature,
			"temperatureUnit":  p.TemperatureUnit,
			"windSpeed":        p.WindSpeed,
			"windDirection":    p.WindDirection,
			"shortForecast":    p.ShortForecast,
			"detailedForecast": p.DetailedForecast,
		}
		if err := emit.Upsert(ctx, "period", record); err != nil {
			return err
		}
		emitted++
		if end, err := time.Parse(time.RFC3339, p.EndTime); err == nil && end.After(newCursorTime) {
			newCursorTime = end
			newCursor = p.EndTime
		}
	}

	log.Info("forecast synced",
		zap.Int("periods", emitted),
		zap.String("cursor", newCursor))

	return emit.Checkpoint(ctx, core.State{"to_cursor": newCursor})
}

var _ core.Source = (*WeatherSource)(nil)
