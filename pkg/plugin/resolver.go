package plugin

import (
	"fmt"
	"strings"
)

// Spec is a parsed "provider[/model][:language]" specification string, the
// shape every provider-selecting config value (e.g. STT_PROVIDER,
// LLM_PROVIDER) takes.
type Spec struct {
	Provider string
	Model    string
	Language string
}

// ParseSpec splits a "provider", "provider/model" or "provider/model:language"
// string into its parts. An empty model or language is valid.
func ParseSpec(spec string) Spec {
	provider := spec
	model := ""
	if idx := strings.Index(spec, "/"); idx >= 0 {
		provider = spec[:idx]
		model = spec[idx+1:]
	}
	language := ""
	if idx := strings.Index(model, ":"); idx >= 0 {
		language = model[idx+1:]
		model = model[:idx]
	}
	return Spec{Provider: provider, Model: model, Language: language}
}

// UnknownProviderError is returned when a spec names a provider with no
// registered plugin of the requested kind. It enumerates the alternatives
// that are registered, so a caller can report them instead of a bare miss.
type UnknownProviderError struct {
	Kind         string
	Provider     string
	Alternatives []string
}

func (e *UnknownProviderError) Error() string {
	if len(e.Alternatives) == 0 {
		return fmt.Sprintf("no %s plugin registered for provider %q (no %s plugins are registered)", e.Kind, e.Provider, e.Kind)
	}
	return fmt.Sprintf("no %s plugin registered for provider %q (registered: %s)", e.Kind, e.Provider, strings.Join(e.Alternatives, ", "))
}

// Resolver resolves a provider spec against a Registry: it parses the spec,
// merges the plugin's config defaults with the spec's model/language and
// any explicit overrides, validates the result, then constructs the
// instance.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a Resolver over the global registry.
func NewResolver() *Resolver {
	return &Resolver{registry: globalRegistry}
}

// Resolve parses spec, looks up the kind/provider plugin, merges config
// defaults with the spec's model/language and overrides, calls the
// plugin's Validate (if any), then its Factory. Unknown providers fail with
// *UnknownProviderError enumerating the kind's registered alternatives.
func (r *Resolver) Resolve(kind, spec string, overrides map[string]any) (any, Spec, error) {
	parsed := ParseSpec(spec)

	p, ok := r.registry.GetPlugin(kind, parsed.Provider)
	if !ok {
		return nil, parsed, &UnknownProviderError{
			Kind:         kind,
			Provider:     parsed.Provider,
			Alternatives: pluginNames(r.registry.List(kind)),
		}
	}

	cfg := map[string]any{}
	for k, v := range p.Config {
		cfg[k] = v
	}
	if parsed.Model != "" {
		cfg["model"] = parsed.Model
	}
	if parsed.Language != "" {
		cfg["language"] = parsed.Language
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	if p.Validate != nil {
		if err := p.Validate(cfg); err != nil {
			return nil, parsed, fmt.Errorf("validating %s/%s config: %w", kind, parsed.Provider, err)
		}
	}

	instance, err := p.Factory(cfg)
	if err != nil {
		return nil, parsed, fmt.Errorf("creating %s/%s: %w", kind, parsed.Provider, err)
	}
	return instance, parsed, nil
}

func pluginNames(plugins []*Plugin) []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}
