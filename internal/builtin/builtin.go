// Package builtin embeds the workflow manifests and graph templates that ship
// with the binary.
package builtin

import (
	"embed"
	"io/fs"
)

//go:embed manifests/*.hcl
var manifests embed.FS

//go:embed templates/*.json
var templates embed.FS

// Manifests returns the built-in workflow manifests rooted at their directory.
func Manifests() fs.FS {
	return mustSub(manifests, "manifests")
}

// Templates returns the built-in graph templates rooted at their directory.
func Templates() fs.FS {
	return mustSub(templates, "templates")
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
