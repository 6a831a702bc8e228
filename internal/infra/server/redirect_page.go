package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/redirect.html
var pageFiles embed.FS

// redirectPage renders the interstitial page that lets the pixel set its
// cookies, reports them back and forwards the visitor.
type redirectPage struct {
	tmpl *template.Template
}

type redirectPageData struct {
	PixelID            string
	Destination        string
	CookieEndpoint     string
	WelcomeMessageID   string
	TelegramUserID     string
	FBClid             string
	CollectDelayMillis int
	FallbackSeconds    int
}

func newRedirectPage() (*redirectPage, error) {
	tmpl, err := template.ParseFS(pageFiles, "templates/redirect.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect page: %w", err)
	}
	return &redirectPage{tmpl: tmpl}, nil
}

func (p *redirectPage) render(data redirectPageData) ([]byte, error) {
	if data.CollectDelayMillis == 0 {
		data.CollectDelayMillis = 800
	}
	if data.FallbackSeconds == 0 {
		data.FallbackSeconds = 4
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render redirect page: %w", err)
	}
	return buf.Bytes(), nil
}
