package domain

import "strings"

type PluginEnv struct {
	Type   string
	Spec   string
	Kernel string
}

type PluginScript struct {
	Content string
	Lang    string
	Attrs   map[string]string
	Src     string
}

type PluginManifest struct {
	ID           string
	Name         string
	Requirements []string
	Env          []PluginEnv
	Scripts      []PluginScript
	Tags         []string
}

// BinderEnv returns the last binder environment that names a spec.
func (m PluginManifest) BinderEnv() (PluginEnv, bool) {
	var found PluginEnv
	ok := false
	for _, env := range m.Env {
		if strings.EqualFold(env.Type, "binder") && env.Spec != "" {
			found, ok = env, true
		}
	}
	return found, ok
}

// ServerConfig resolves the server a plugin should run on, starting from
// the engine's own defaults. A direct server URL ignores the plugin's binder
// environment, kernel included.
func (m PluginManifest) ServerConfig(base ServerConfig) (ServerConfig, string) {
	cfg := base
	if cfg.DirectURL != "" {
		return cfg.WithDefaults(), ""
	}
	env, ok := m.BinderEnv()
	if !ok {
		return cfg.WithDefaults(), ""
	}
	cfg.Spec = env.Spec
	return cfg.WithDefaults(), env.Kernel
}
