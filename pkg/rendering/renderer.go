package rendering

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/systemstart/backupflow/pkg/api"
)

// Renderer evaluates parameter templates. A reference to a name that is not
// present in the data fails with api.ErrUndefinedVariable.
type Renderer struct {
	funcs template.FuncMap
}

// NewRenderer returns a Renderer with the sprig functions and the date and
// path helpers registered.
func NewRenderer() *Renderer {
	return &Renderer{funcs: FuncMap()}
}

// FuncMap is sprig's function map extended with the backup helpers.
func FuncMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["extract_year_four_digits"] = func(t time.Time) string { return t.Format("2006") }
	funcs["extract_month_two_digits"] = func(t time.Time) string { return t.Format("01") }
	funcs["extract_day_two_digits"] = func(t time.Time) string { return t.Format("02") }
	funcs["base_name"] = filepath.Base
	return funcs
}

// Render executes text against data.
func (r *Renderer) Render(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: parsing template %q: %w", api.ErrConfigurationValidation, name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		if strings.Contains(err.Error(), "map has no entry for key") {
			return "", fmt.Errorf("%w: rendering %q: %w", api.ErrUndefinedVariable, name, err)
		}
		return "", fmt.Errorf("rendering %q: %w", name, err)
	}
	return buf.String(), nil
}

// RenderValue renders value when it is a string and returns any other value unchanged.
func (r *Renderer) RenderValue(name string, value any, data map[string]any) (any, error) {
	str, ok := value.(string)
	if !ok {
		return value, nil
	}
	return r.Render(name, str, data)
}
