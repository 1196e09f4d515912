package pipeline

import (
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// FromConfig builds pipeline options from the [preview] settings. Empty
// settings keep their defaults.
func FromConfig(cfg config.PreviewConfig) Options {
	t := transform.DefaultOptions()
	if cfg.JSXImportSource != "" {
		t.JSXImportSource = cfg.JSXImportSource
	}
	if len(cfg.StyleExtensions) > 0 {
		t.StyleExtensions = cfg.StyleExtensions
	}
	t.SourceMaps = cfg.SourceMaps

	r := resolve.DefaultOptions()
	if cfg.Alias != "" {
		r.Alias = cfg.Alias
	}
	if cfg.Entry != "" {
		if entry, err := vfs.Normalize(cfg.Entry); err == nil {
			r.Entry = entry
		}
	}
	if len(cfg.Extensions) > 0 {
		r.Extensions = cfg.Extensions
	}
	r.StyleExtensions = t.StyleExtensions
	if cfg.Registry != "" {
		r.Registry = cfg.Registry
	}
	if cfg.Pins != nil {
		r.Pins = cfg.Pins
	}
	if cfg.Shared != nil {
		r.Shared = cfg.Shared
	}

	return Options{
		Transform:   t,
		Resolve:     r,
		Title:       cfg.Title,
		HeadScripts: cfg.HeadScripts,
	}
}
