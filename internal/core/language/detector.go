package language

import "strings"

// Default is used for unknown or empty language codes.
const Default = "en"

// Supported lists the locales the bot has templates for.
var Supported = []string{"en", "uk", "ru"}

// NormalizeLanguageCode maps a client language code such as "uk-UA", "ru_RU"
// or "english" onto a supported locale.
func NormalizeLanguageCode(languageCode string) string {
	normalized := strings.ToLower(strings.TrimSpace(languageCode))
	if i := strings.IndexAny(normalized, "-_"); i > 0 {
		normalized = normalized[:i]
	}

	switch normalized {
	case "ru", "rus", "russian":
		return "ru"
	case "uk", "ukr", "ukrainian":
		return "uk"
	case "en", "eng", "english":
		return "en"
	default:
		return Default
	}
}
