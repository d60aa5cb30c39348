package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyURL      = errors.New("url is required")
	ErrBlockedScheme = errors.New("blocked protocol")
)

// blockedSchemes are rejected outright; everything here can read local
// state or execute in a privileged browser context.
var blockedSchemes = []string{"file", "javascript", "data", "chrome", "about"}

const searchURL = "https://duckduckgo.com/?q="

// NormalizeURL turns free-form user input into a launchable URL. http and
// https input passes through unchanged; bare domains get https:// prepended;
// anything that doesn't look like a
// domain becomes a web search. Idempotent for already-normalized input.
func NormalizeURL(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmptyURL
	}

	lower := strings.ToLower(trimmed)
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(lower, scheme+":") {
			return "", fmt.Errorf("%w: %s:", ErrBlockedScheme, scheme)
		}
	}

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return trimmed, nil
	}

	if strings.Contains(trimmed, ".") && !strings.ContainsAny(trimmed, " \t") {
		return "https://" + trimmed, nil
	}

	return searchURL + url.QueryEscape(trimmed), nil
}
