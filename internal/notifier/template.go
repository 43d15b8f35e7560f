// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package notifier

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// ErrTemplate marks a rendering failure; the notifier logs it and skips the
// org instead of aborting the whole run.
var ErrTemplate = errors.New("template error")

// DigestContext is the data a digest template renders from.
type DigestContext struct {
	OrgID    string
	Language string
	// Deltas holds the positive per-category counts since the last digest.
	Deltas   map[string]int64
	LastSend time.Time
	Now      time.Time
}

// TemplateSet holds the parsed digest templates, one per language.
type TemplateSet struct {
	templates *template.Template
	// byLanguage maps a language tag to its template name.
	byLanguage      map[string]string
	defaultLanguage string
}

// LoadTemplates parses every *.tmpl file under dir. byLanguage maps language
// tags to template names; defaultLanguage is used for orgs without one.
func LoadTemplates(dir string, byLanguage map[string]string, defaultLanguage string) (*TemplateSet, error) {
	tpl, err := template.ParseGlob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("notifier templates: %w", err)
	}
	set := &TemplateSet{
		templates:       tpl,
		byLanguage:      make(map[string]string, len(byLanguage)),
		defaultLanguage: strings.ToLower(defaultLanguage),
	}
	for lang, name := range byLanguage {
		if tpl.Lookup(name) == nil {
			return nil, fmt.Errorf("notifier templates: language %q maps to missing template %q", lang, name)
		}
		set.byLanguage[strings.ToLower(lang)] = name
	}
	return set, nil
}

// Render produces the digest body for one org in its configured language.
func (s *TemplateSet) Render(ctx DigestContext) (string, error) {
	lang := strings.ToLower(ctx.Language)
	if lang == "" {
		lang = s.defaultLanguage
	}
	name, ok := s.byLanguage[lang]
	if !ok {
		name, ok = s.byLanguage[s.defaultLanguage]
		if !ok {
			return "", fmt.Errorf("%w: no template for language %q", ErrTemplate, ctx.Language)
		}
	}

	var b strings.Builder
	if err := s.templates.ExecuteTemplate(&b, name, ctx); err != nil {
		return "", fmt.Errorf("%w: render %q: %v", ErrTemplate, name, err)
	}
	return b.String(), nil
}
