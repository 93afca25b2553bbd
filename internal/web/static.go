package web

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed static
var embedded embed.FS

// dashboardFiles are the assets the levelling page cannot work without.
var dashboardFiles = []string{"index.html"}

// dashboard returns the embedded levelling page and its assets, rooted so
// that /static/index.html maps to index.html.
func dashboard(root fs.FS) (fs.FS, error) {
	sub, err := fs.Sub(root, "static")
	if err != nil {
		return nil, fmt.Errorf("web: dashboard assets: %w", err)
	}
	for _, name := range dashboardFiles {
		if _, err := fs.Stat(sub, name); err != nil {
			return nil, fmt.Errorf("web: dashboard asset %s: %w", name, err)
		}
	}
	return sub, nil
}
