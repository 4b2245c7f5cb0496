package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/rendering"
)

// base carries what every step shares: its declared values, its secret
// context and the rendering environment.
type base struct {
	name      string
	generates map[string]string
	values    map[string]any
	secrets   map[string]any
	rendering *rendering.Context
	renderer  *rendering.Renderer
}

func newBase(p Params) base {
	secrets := p.Secrets
	if secrets == nil {
		secrets = make(map[string]any)
	}
	return base{
		name:      p.Config.Name,
		generates: p.Config.Generates,
		values:    p.Config.Values(),
		secrets:   secrets,
		rendering: p.Rendering,
		renderer:  p.Renderer,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) VoteForSkip(context.Context) (SkipVote, error) { return Abstain, nil }

func (b *base) layers(additional map[string]any) rendering.Layers {
	return rendering.Mixed(b.rendering.ToContext(), b.secrets, b.values, additional)
}

func (b *base) render(name, text string, additional map[string]any) (string, error) {
	return b.renderLayers(name, text, b.layers(additional))
}

func (b *base) renderLayers(name, text string, layers rendering.Layers) (string, error) {
	return b.renderer.Render(b.name+"."+name, text, layers.Flatten())
}

// param renders a required string parameter and stores the result in the
// step values, so later templates see the rendered value.
func (b *base) param(key string) (string, error) {
	value, ok, err := b.optionalParam(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: step %q: parameter %q is required", api.ErrConfigurationValidation, b.name, key)
	}
	return value, nil
}

func (b *base) optionalParam(key string) (string, bool, error) {
	raw, _, ok := b.layers(nil).Lookup(key)
	if !ok || raw == nil {
		return "", false, nil
	}
	text, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: step %q: parameter %q must be a string, got %T", api.ErrUnsupportedValueType, b.name, key, raw)
	}

	slog.Debug("rendering parameter", "step", b.name, "param", key, "template", text)
	res, err := b.render(key, text, nil)
	if err != nil {
		return "", false, err
	}
	b.values[key] = res
	return res, true, nil
}

// secret returns a required, non-empty secret value.
func (b *base) secret(key string) (string, error) {
	raw, _, ok := b.layers(nil).Lookup(key)
	text, isString := raw.(string)
	if !ok || !isString || text == "" {
		return "", fmt.Errorf("%w: step %q: required secret %q is missing", api.ErrConfigurationValidation, b.name, key)
	}
	return text, nil
}

// intValue reads a numeric setting. Strings are rendered first, so the value
// may come from a template.
func (b *base) intValue(key string, fallback int) (int, error) {
	layers := b.layers(nil)
	raw, _, ok := layers.Lookup(key)
	if !ok || raw == nil {
		return fallback, nil
	}
	value, err := b.renderer.RenderValue(b.name+"."+key, raw, layers.Flatten())
	if err != nil {
		return 0, err
	}
	var res int
	if err := mapstructure.WeakDecode(value, &res); err != nil {
		return 0, fmt.Errorf("%w: step %q: %s: %w", api.ErrUnsupportedValueType, b.name, key, err)
	}
	return res, nil
}

// decode reads a structured parameter (a list of rules, uploads...) into out.
func (b *base) decode(key string, out any) error {
	raw, _, ok := b.layers(nil).Lookup(key)
	if !ok {
		return fmt.Errorf("%w: step %q: parameter %q is required", api.ErrConfigurationValidation, b.name, key)
	}
	if err := mapstructure.Decode(raw, out); err != nil {
		return fmt.Errorf("%w: step %q: %s: %w", api.ErrUnsupportedValueType, b.name, key, err)
	}
	return nil
}

// outputs resolves the generates block against the mixed context plus additional.
func (b *base) outputs(additional map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(b.generates))
	if len(b.generates) == 0 {
		return res, nil
	}

	data := b.layers(additional).Flatten()
	for key, tmpl := range b.generates {
		value, err := b.renderer.Render(b.name+".generates."+key, tmpl, data)
		if err != nil {
			return nil, err
		}
		res[key] = value
	}
	return res, nil
}
