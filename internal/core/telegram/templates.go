package telegram

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/PocketPalCo/attribution-service/internal/core/language"
)

//go:embed templates/*/*.html
var templateFiles embed.FS

type TemplateManager struct {
	templates map[string]*template.Template
}

func NewTemplateManager() (*TemplateManager, error) {
	tm := &TemplateManager{
		templates: make(map[string]*template.Template),
	}

	for _, locale := range language.Supported {
		pattern := fmt.Sprintf("templates/%s/*.html", locale)
		tmpl, err := template.New("").ParseFS(templateFiles, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to parse templates for locale %s: %w", locale, err)
		}
		tm.templates[locale] = tmpl
	}

	return tm, nil
}

func (tm *TemplateManager) RenderTemplate(templateName, locale string, data interface{}) (string, error) {
	// Default to English if locale not supported
	if _, exists := tm.templates[locale]; !exists {
		locale = language.Default
	}

	tmpl, exists := tm.templates[locale]
	if !exists {
		return "", fmt.Errorf("no templates loaded for locale: %s", locale)
	}

	var buf bytes.Buffer
	templateFile := filepath.Base(templateName) + ".html"
	if err := tmpl.ExecuteTemplate(&buf, templateFile, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s for locale %s: %w", templateFile, locale, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// RenderMessage renders a localized error or status message, falling back to
// the message name.
func (tm *TemplateManager) RenderMessage(messageName, locale string) string {
	if _, exists := tm.templates[locale]; !exists {
		locale = language.Default
	}

	tmpl, exists := tm.templates[locale]
	if !exists {
		return messageName
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, messageName, nil); err != nil {
		return messageName
	}

	return buf.String()
}

// NormalizeLocale converts language codes to supported locales
func NormalizeLocale(languageCode string) string {
	return language.NormalizeLanguageCode(languageCode)
}

type StartTemplateData struct {
	FirstName string
}
