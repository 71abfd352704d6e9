package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

type stubSource struct {
	name string
}

func (s *stubSource) Name() string    { return s.name }
func (s *stubSource) Version() string { return "test" }
func (s *stubSource) Initialize(ctx context.Context, cfg *config.Config) error {
	return nil
}
func (s *stubSource) Schema(ctx context.Context) ([]*core.TableSchema, error) {
	return nil, nil
}
func (s *stubSource) Update(ctx context.Context, state core.State) (*core.OperationStream, error) {
	return nil, nil
}
func (s *stubSource) Close(ctx context.Context) error { return nil }

func stubFactory(name string) SourceFactory {
	return func(cfg *config.Config) (core.Source, error) {
		return &stubSource{name: name}, nil
	}
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterSource("alpha", stubFactory("alpha")))
	assert.True(t, r.HasSource("alpha"))

	source, err := r.CreateSource("alpha", config.New("alpha"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", source.Name())
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterSource("alpha", stubFactory("alpha")))
	assert.Error(t, r.RegisterSource("alpha", stubFactory("alpha")))
	assert.Error(t, r.RegisterSource("", stubFactory("")))
	assert.Error(t, r.RegisterSource("beta", nil))
}

func TestCreateUnknownSource(t *testing.T) {
	r := NewRegistry()

	_, err := r.CreateSource("missing", config.New("missing"))
	assert.Error(t, err)
}

func TestListSourcesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSource("zeta", stubFactory("zeta")))
	require.NoError(t, r.RegisterSource("alpha", stubFactory("alpha")))
	require.NoError(t, r.RegisterSource("mid", stubFactory("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.ListSources())

	r.Clear()
	assert.Empty(t, r.ListSources())
}
