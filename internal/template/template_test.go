package template

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/builtin"
)

func TestLoad_Builtin(t *testing.T) {
	s := NewStore(builtin.Templates())

	doc, err := s.Load(context.Background(), "flux2klein")
	require.NoError(t, err)
	_, ok := doc.Node("75:73")
	assert.True(t, ok)
}

func TestLoad_ReturnsIndependentCopies(t *testing.T) {
	s := NewStore(builtin.Templates())
	ctx := context.Background()

	first, err := s.Load(ctx, "z_image_turbo")
	require.NoError(t, err)
	require.NoError(t, first.SetInput("57:3", "seed", int64(42)))

	second, err := s.Load(ctx, "z_image_turbo")
	require.NoError(t, err)
	n, _ := second.Node("57:3")
	assert.Equal(t, int64(0), n.Inputs["seed"])
}

func TestLoad_OverlayWins(t *testing.T) {
	overlay := fstest.MapFS{
		"flux2klein.json": {Data: []byte(`{"1": {"class_type": "Custom", "inputs": {}}}`)},
	}
	s := NewStore(builtin.Templates(), overlay)

	doc, err := s.Load(context.Background(), "flux2klein")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Len())

	// Templates the overlay lacks still come from the built-in set.
	_, err = s.Load(context.Background(), "z_image_turbo")
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	overlay := fstest.MapFS{"broken.json": {Data: []byte(`{"1": `)}}
	s := NewStore(nil, overlay)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = s.Load(ctx, "../escape")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	doc, err := s.Load(ctx, "broken")
	assert.Nil(t, doc)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken", loadErr.Name)
}
