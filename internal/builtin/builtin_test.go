package builtin_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/builtin"
	"github.com/vk/comfygrid/internal/fsutil"
	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/hcl_adapter"
)

func TestTemplatesParseAndValidate(t *testing.T) {
	files, err := fsutil.FindFilesByExtension(builtin.Templates(), ".", ".json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"flux2klein.json", "flux2klein_ref.json", "z_image_turbo.json"}, files)

	for _, f := range files {
		t.Run(f, func(t *testing.T) {
			data, err := fs.ReadFile(builtin.Templates(), f)
			require.NoError(t, err)
			doc, err := graph.Parse(data)
			require.NoError(t, err)
			assert.NoError(t, doc.Validate())
		})
	}
}

func TestManifestsLoad(t *testing.T) {
	model, err := hcl_adapter.NewLoader(builtin.Manifests()).Load(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(model.Workflows))
	for _, w := range model.Workflows {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"flux2klein", "z_image_turbo"}, ids)

	flux, _ := model.Workflow("flux2klein")
	refs, ok := flux.Input("ref_images")
	require.True(t, ok)
	assert.Equal(t, 5, refs.MaxCount)
}
