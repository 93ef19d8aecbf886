package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/builtin"
	"github.com/vk/comfygrid/internal/hcl_adapter"
	"github.com/zclconf/go-cty/cty"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	model, err := hcl_adapter.NewLoader(builtin.Manifests()).Load(context.Background())
	require.NoError(t, err)
	return NewRegistry(model, hcl_adapter.NewConverter())
}

func TestRegistry_ListAndGet(t *testing.T) {
	r := newTestRegistry(t)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "flux2klein", list[0].ID)

	_, ok := r.Get("z_image_turbo")
	assert.True(t, ok)
	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestResolve_FillsDefaults(t *testing.T) {
	r := newTestRegistry(t)

	values, err := r.Resolve(context.Background(), "flux2klein", map[string]any{"prompt": "a cat"})
	require.NoError(t, err)

	assert.Equal(t, cty.StringVal("a cat"), values["prompt"])
	assert.True(t, values["width"].RawEquals(cty.NumberIntVal(1024)))
	assert.True(t, values["steps"].RawEquals(cty.NumberIntVal(4)))
	assert.True(t, values["seed"].RawEquals(cty.NumberIntVal(0)))
	_, hasRefs := values["ref_images"]
	assert.False(t, hasRefs, "optional inputs without defaults stay absent")
}

func TestResolve_CoercesAndOverrides(t *testing.T) {
	r := newTestRegistry(t)

	values, err := r.Resolve(context.Background(), "flux2klein", map[string]any{
		"prompt":     "",
		"width":      "1280",
		"cfg":        2.5,
		"ref_images": []string{"a.png", "b.png"},
	})
	require.NoError(t, err)

	assert.Equal(t, cty.StringVal(""), values["prompt"], "an explicit empty value wins over the default")
	assert.True(t, values["width"].RawEquals(cty.NumberIntVal(1280)))
	assert.True(t, values["cfg"].RawEquals(cty.NumberFloatVal(2.5)))
	assert.Equal(t, 2, values["ref_images"].LengthInt())
}

func TestResolve_Errors(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	testCases := map[string]map[string]any{
		"undeclared input": {"negative": "blurry"},
		"below min":        {"width": 10},
		"above max":        {"steps": 51},
		"not whole":        {"steps": 4.5},
		"not a number":     {"width": "wide"},
		"too many images":  {"ref_images": []string{"1", "2", "3", "4", "5", "6"}},
		"empty image name": {"ref_images": []string{"a.png", ""}},
	}
	for name, inputs := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(ctx, "flux2klein", inputs)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			var inErr *InputError
			assert.ErrorAs(t, err, &inErr)
		})
	}
}
