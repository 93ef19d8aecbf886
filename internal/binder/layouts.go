package binder

import (
	"fmt"

	"github.com/vk/comfygrid/internal/nodeid"
)

// Role names a node a parameter is written to.
type Role int

const (
	RolePrompt Role = iota
	RoleSeed
	RoleSteps
	RoleCFG
	// RoleSize is the node the sampler schedule derives its canvas from.
	RoleSize
	// RoleLatent is the empty-latent node. The backend sizes the image from
	// this one, so it always receives the same width and height as RoleSize.
	RoleLatent
	RoleBaseConditioning
	RoleVAE
	RoleGuider
)

func (r Role) String() string {
	switch r {
	case RolePrompt:
		return "prompt"
	case RoleSeed:
		return "seed"
	case RoleSteps:
		return "steps"
	case RoleCFG:
		return "cfg"
	case RoleSize:
		return "size"
	case RoleLatent:
		return "latent"
	case RoleBaseConditioning:
		return "base_conditioning"
	case RoleVAE:
		return "vae"
	case RoleGuider:
		return "guider"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Binding locates a role inside a template.
type Binding struct {
	// Node is the node id relative to the variant prefix, or absolute when
	// Global is set.
	Node   string
	Fields []string
	Global bool
}

// Variant is one template of a workflow together with its id prefix.
type Variant struct {
	Template string
	Prefix   nodeid.Prefix
	Roles    map[Role]Binding
}

// NodeID resolves the absolute node id a role is bound to.
func (v Variant) NodeID(r Role) (nodeid.ID, Binding, bool, error) {
	b, ok := v.Roles[r]
	if !ok {
		return "", Binding{}, false, nil
	}
	if b.Global {
		addr, err := nodeid.Parse(b.Node)
		if err != nil {
			return "", b, true, err
		}
		return addr.ID(), b, true, nil
	}
	id, err := v.Prefix.Scope(b.Node)
	return id, b, true, err
}

// Layout maps a workflow to its template variants.
type Layout struct {
	Plain Variant
	// Reference is used instead of Plain when ReferenceInput is non-empty.
	Reference      *Variant
	ReferenceInput string
}

// Select returns the reference variant iff images is non-empty.
func (l *Layout) Select(images []string) (Variant, error) {
	if len(images) == 0 {
		return l.Plain, nil
	}
	if l.Reference == nil {
		return Variant{}, fmt.Errorf("%w: workflow takes no reference images", ErrInvalidInput)
	}
	return *l.Reference, nil
}

func fluxRoles() map[Role]Binding {
	return map[Role]Binding{
		RolePrompt:           {Node: "76", Fields: []string{"value"}, Global: true},
		RoleSeed:             {Node: "73", Fields: []string{"noise_seed"}},
		RoleSteps:            {Node: "62", Fields: []string{"steps"}},
		RoleCFG:              {Node: "63", Fields: []string{"cfg"}},
		RoleSize:             {Node: "62", Fields: []string{"width", "height"}},
		RoleLatent:           {Node: "66", Fields: []string{"width", "height"}},
		RoleBaseConditioning: {Node: "74"},
		RoleVAE:              {Node: "72"},
		RoleGuider:           {Node: "63", Fields: []string{"positive"}},
	}
}

// DefaultLayouts returns the layout table of the built-in workflows. The
// plain and reference flux templates are the same graph exported under
// different group ids, hence the two prefixes.
func DefaultLayouts() map[string]*Layout {
	return map[string]*Layout{
		"flux2klein": {
			Plain: Variant{Template: "flux2klein", Prefix: nodeid.MustPrefix("75"), Roles: fluxRoles()},
			Reference: &Variant{
				Template: "flux2klein_ref",
				Prefix:   nodeid.MustPrefix("92"),
				Roles:    fluxRoles(),
			},
			ReferenceInput: "ref_images",
		},
		"z_image_turbo": {
			Plain: Variant{
				Template: "z_image_turbo",
				Prefix:   nodeid.MustPrefix("57"),
				Roles: map[Role]Binding{
					RolePrompt: {Node: "27", Fields: []string{"text"}},
					RoleSeed:   {Node: "3", Fields: []string{"seed"}},
					RoleSteps:  {Node: "3", Fields: []string{"steps"}},
					RoleCFG:    {Node: "3", Fields: []string{"cfg"}},
					RoleSize:   {Node: "40", Fields: []string{"width", "height"}},
					RoleLatent: {Node: "13", Fields: []string{"width", "height"}},
				},
			},
		},
	}
}
