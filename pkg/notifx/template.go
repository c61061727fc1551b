package notifx

import (
	"html/template"
	"strings"
	"sync"
)

// TemplateRegistry holds the named HTML email templates. Templates are
// registered once at service construction and rendered per send.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*template.Template)}
}

// Register parses the template source and stores it under name, replacing
// any previous registration.
func (r *TemplateRegistry) Register(name, src string) error {
	t, err := template.New(name).Parse(src)
	if err != nil {
		return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = t
	return nil
}

// Render executes the named template against data and returns the HTML body.
func (r *TemplateRegistry) Render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", notifxErrors.New(ErrTemplateNotFound).WithDetail("template", name)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}

	return sb.String(), nil
}
