// Package plugins ships the built-in capability plugins: clock, sysinfo,
// howto, and the websearch fallback. Each is an ordinary plugin with no
// special access to the core; external plugins register through the same
// manifest mechanism.
package plugins

import (
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/registry"
	"github.com/praxishq/praxis/core/pkg/contracts"
)

// Builders returns the manifest builders for every built-in plugin kind.
func Builders() map[string]registry.Builder {
	return map[string]registry.Builder{
		"clock": func(config.ManifestEntry) (contracts.Plugin, error) {
			return NewClock(), nil
		},
		"sysinfo": func(config.ManifestEntry) (contracts.Plugin, error) {
			return NewSysinfo(), nil
		},
		"howto": func(config.ManifestEntry) (contracts.Plugin, error) {
			return NewHowto(), nil
		},
		"websearch": func(me config.ManifestEntry) (contracts.Plugin, error) {
			return NewWebsearch(me.Options["endpoint"]), nil
		},
	}
}

// RegisterBuiltins installs all built-in builders and registers the default
// plugin set at standard priorities. Specific beats general: the fallback
// sits at the bottom.
func RegisterBuiltins(reg *registry.Registry) error {
	for kind, b := range Builders() {
		reg.RegisterBuilder(kind, b)
	}
	for _, p := range []struct {
		plugin   contracts.Plugin
		priority int
	}{
		{NewClock(), 50},
		{NewSysinfo(), 50},
		{NewHowto(), 40},
		{NewWebsearch(""), 0},
	} {
		if err := reg.Register(p.plugin, p.priority); err != nil {
			return err
		}
	}
	return nil
}
