package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TemplateLoader fetches the prompt template on every call so an operator
// edit takes effect on the next execution.
type TemplateLoader struct {
	params Getter
}

func NewTemplateLoader(params Getter) (*TemplateLoader, error) {
	if params == nil {
		return nil, errors.New("paramstore: params getter must not be nil")
	}
	return &TemplateLoader{params: params}, nil
}

// Load returns the named template. A blank template is an error.
func (l *TemplateLoader) Load(ctx context.Context, name string) (string, error) {
	tmpl, err := l.params.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: load template: %w", err)
	}
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("paramstore: template %q is empty", name)
	}
	return tmpl, nil
}

// StaticTemplates serves templates from memory. The replay CLI uses it when
// a template file is given instead of SSM.
type StaticTemplates map[string]string

func (s StaticTemplates) Load(_ context.Context, name string) (string, error) {
	tmpl, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("paramstore: template %q is empty", name)
	}
	return tmpl, nil
}
