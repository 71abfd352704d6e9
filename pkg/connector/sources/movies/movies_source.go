// Package movies syncs a director's filmography from The Movie Database
// (TMDB). One sync fans out: resolve the configured person to a TMDB id,
// list their directing credits, then fetch details and reviews for each
// movie. TMDB paces clients to roughly 50 requests per second but the
// public guidance is far lower, so requests run through the shared token
// bucket at four per second.
package movies

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/base"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	defaultPerson  = "Christopher Nolan"
)

// MoviesSource pulls movies and reviews for one director.
type MoviesSource struct {
	*base.BaseConnector

	apiKey  string
	baseURL string
	person  string
}

type personSearchResponse struct {
	Results []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

type creditsResponse struct {
	Crew []struct {
		ID  int64  `json:"id"`
		Job string `json:"job"`
	} `json:"crew"`
}

type movieDetails struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Runtime     int     `json:"runtime"`
	Budget      int64   `json:"budget"`
	Revenue     int64   `json:"revenue"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int64   `json:"vote_count"`
	Overview    string  `json:"overview"`
}

type reviewsResponse struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Results    []struct {
		ID            string `json:"id"`
		Author        string `json:"author"`
		Content       string `json:"content"`
		CreatedAt     string `json:"created_at"`
		UpdatedAt     string `json:"updated_at"`
		AuthorDetails struct {
			Rating float64 `json:"rating"`
		} `json:"author_details"`
	} `json:"results"`
}

// NewMoviesSource creates the connector.
func NewMoviesSource() *MoviesSource {
	return &MoviesSource{
		BaseConnector: base.NewBaseConnector("movies", "1.0.0"),
	}
}

// Initialize validates the API key and enables request pacing when the
// configuration does not choose its own rate.
func (s *MoviesSource) Initialize(ctx context.Context, cfg *config.Config) error {
	if cfg != nil && cfg.HTTP.RateLimitPerSec == 0 {
		cfg.HTTP.RateLimitPerSec = 4
		cfg.HTTP.RateBurst = 1
	}
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	apiKey, err := cfg.RequireString("api_key")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "movies connector")
	}
	s.apiKey = apiKey
	s.baseURL = cfg.GetString("base_url", defaultBaseURL)
	s.person = cfg.GetString("person", defaultPerson)
	return nil
}

// Schema declares the movie and review tables.
func (s *MoviesSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return []*core.TableSchema{
		{
			Table:      "movie",
			PrimaryKey: []string{"id"},
			Columns: map[string]core.ColumnType{
				"id":           core.ColumnTypeLong,
				"title":        core.ColumnTypeString,
				"release_date": core.ColumnTypeNaiveDate,
				"runtime":      core.ColumnTypeInt,
				"budget":       core.ColumnTypeLong,
				"revenue":      core.ColumnTypeLong,
				"vote_average": core.ColumnTypeFloat,
				"vote_count":   core.ColumnTypeLong,
				"overview":     core.ColumnTypeString,
			},
		},
		{
			Table:      "review",
			PrimaryKey: []string{"id"},
			Columns: map[string]core.ColumnType{
				"id":         core.ColumnTypeString,
				"movie_id":   core.ColumnTypeLong,
				"author":     core.ColumnTypeString,
				"content":    core.ColumnTypeString,
				"rating":     core.ColumnTypeFloat,
				"created_at": core.ColumnTypeUTCDatetime,
				"updated_at": core.ColumnTypeUTCDatetime,
			},
		},
	}, nil
}

// Update runs the person -> credits -> movies -> reviews fan-out.
func (s *MoviesSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	stream, emit := s.NewStream(128, config.CheckpointEnd)

	go func() {
		defer emit.Close()
		if err := s.sync(ctx, state, emit); err != nil {
			emit.Fail(err)
		}
	}()

	return stream, nil
}

func (s *MoviesSource) sync(ctx context.Context, state core.State, emit *base.Emitter) error {
	log := s.GetLogger()

	personID, err := s.findPerson(ctx)
	if err != nil {
		return err
	}

	movieIDs, err := s.directedMovies(ctx, personID)
	if err != nil {
		return err
	}
	log.Info("filmography resolved",
		zap.String("person", s.person),
		zap.Int64("person_id", personID),
		zap.Int("movies", len(movieIDs)))

	for _, movieID := range movieIDs {
		if err := s.syncMovie(ctx, emit, movieID); err != nil {
			return err
		}
	}

	return emit.Checkpoint(ctx, core.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *MoviesSource) params(extra map[string]string) map[string]string {
	out := map[string]string{"api_key": s.apiKey}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *MoviesSource) findPerson(ctx context.Context) (int64, error) {
	var resp personSearchResponse
	err := s.REST().GetJSON(ctx, s.baseURL+"/search/person",
		s.params(map[string]string{"query": s.person}), nil, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "no TMDB person matches %q", s.person)
	}
	return resp.Results[0].ID, nil
}

func (s *MoviesSource) directedMovies(ctx context.Context, personID int64) ([]int64, error) {
	var resp creditsResponse
	url := fmt.Sprintf("%s/person/%d/movie_credits", s.baseURL, personID)
	if err := s.REST().GetJSON(ctx, url, s.params(nil), nil, &resp); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, c := range resp.Crew {
		if c.Job != "Director" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *MoviesSource) syncMovie(ctx context.Context, emit *base.Emitter, movieID int64) error {
	var details movieDetails
	url := fmt.Sprintf("%s/movie/%d", s.baseURL, movieID)
	if err := s.REST().GetJSON(ctx, url, s.params(nil), nil, &details); err != nil {
		return err
	}

	record := map[string]interface{}{
		"id":           details.ID,
		"title":        details.Title,
		"release_date": details.ReleaseDate,
		"runtime":      details.Runtime,
		"budget":       details.Budget,
		"revenue":      details.Revenue,
		"vote_average": details.VoteAverage,
		"vote_count":   details.VoteCount,
		"overview":     details.Overview,
	}
	if err := emit.Upsert(ctx, "movie", record); err != nil {
		return err
	}

	return s.syncReviews(ctx, emit, movieID)
}

func (s *MoviesSource) syncReviews(ctx context.Context, emit *base.Emitter, movieID int64) error {
	url := fmt.Sprintf("%s/movie/%d/reviews", s.baseURL, movieID)
	maxPages := s.GetConfig().Reliability.MaxPages

	for page := 1; page <= maxPages; page++ {
		var resp reviewsResponse
		err := s.REST().GetJSON(ctx, url,
			s.params(map[string]string{"page": strconv.Itoa(page)}), nil, &resp)
		if err != nil {
			return err
		}

		for _, r := range resp.Results {
			record := map[string]interface{}{
				"id":         r.ID,
				"movie_id":   movieID,
				"author":     r.Author,
				"content":    r.Content,
				"rating":     r.AuthorDetails.Rating,
				"created_at": r.CreatedAt,
				"updated_at": r.UpdatedAt,
			}
			if err := emit.Upsert(ctx, "review", record); err != nil {
				return err
			}
		}

		if resp.Page >= resp.TotalPages || len(resp.Results) == 0 {
			return nil
		}
	}
	return nil
}

var _ core.Source = (*MoviesSource)(nil)
