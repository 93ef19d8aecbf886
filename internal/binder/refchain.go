package binder

import (
	"fmt"

	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/nodeid"
)

const referenceGroup = "dynamic_ref"

// ReferenceNodeIDs returns the ids of the three nodes synthesized for the
// reference image at index i.
func ReferenceNodeIDs(i int) (load, vae, ref nodeid.ID) {
	group := nodeid.New(nodeid.NewPathSegmentWithIndex(referenceGroup, i))
	return group.Child(nodeid.NewPathSegment("load")).ID(),
		group.Child(nodeid.NewPathSegment("vae")).ID(),
		group.Child(nodeid.NewPathSegment("ref")).ID()
}

// BuildReferenceChain splices one LoadImage, VAEEncode and ReferenceLatent
// node per image into doc. Each ReferenceLatent takes the conditioning of the
// previous one, starting from the base conditioning, and the guider's
// positive input is pointed at the last. It returns that final ref. With no
// images the document is left untouched.
func BuildReferenceChain(doc *graph.Document, v Variant, images []string) (graph.Ref, error) {
	base, _, err := requireNode(doc, v, RoleBaseConditioning)
	if err != nil {
		return graph.Ref{}, err
	}
	pointer := graph.Ref{Node: base, Slot: 0}
	if len(images) == 0 {
		return pointer, nil
	}

	vae, _, err := requireNode(doc, v, RoleVAE)
	if err != nil {
		return graph.Ref{}, err
	}
	guider, guiderBinding, err := requireNode(doc, v, RoleGuider)
	if err != nil {
		return graph.Ref{}, err
	}
	if len(guiderBinding.Fields) != 1 {
		return graph.Ref{}, fmt.Errorf("role %s must bind exactly one field", RoleGuider)
	}

	for i, image := range images {
		loadID, vaeID, refID := ReferenceNodeIDs(i)

		load := graph.NewNode("LoadImage")
		load.SetInput("image", image)

		encode := graph.NewNode("VAEEncode")
		encode.SetInput("pixels", graph.Ref{Node: loadID})
		encode.SetInput("vae", graph.Ref{Node: vae})

		ref := graph.NewNode("ReferenceLatent")
		ref.SetInput("conditioning", pointer)
		ref.SetInput("latent", graph.Ref{Node: vaeID})

		for _, n := range []struct {
			id   nodeid.ID
			node *graph.Node
		}{{loadID, load}, {vaeID, encode}, {refID, ref}} {
			if err := doc.Add(n.id, n.node); err != nil {
				return graph.Ref{}, err
			}
		}
		pointer = graph.Ref{Node: refID}
	}

	if err := doc.SetInput(guider, guiderBinding.Fields[0], pointer); err != nil {
		return graph.Ref{}, err
	}
	return pointer, nil
}

func requireNode(doc *graph.Document, v Variant, role Role) (nodeid.ID, Binding, error) {
	id, binding, ok, err := v.NodeID(role)
	if err != nil {
		return "", Binding{}, fmt.Errorf("role %s: %w", role, err)
	}
	if !ok {
		return "", Binding{}, fmt.Errorf("%w: layout has no %s node", ErrMissingNode, role)
	}
	if _, exists := doc.Node(id); !exists {
		return "", Binding{}, fmt.Errorf("%w: %s node %s", ErrMissingNode, role, id)
	}
	return id, binding, nil
}
