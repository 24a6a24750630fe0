package oauth

import (
	"log/slog"

	"github.com/pkg/browser"
)

// BrowserOpener shows the authorization page to the user.
type BrowserOpener interface {
	Open(url string) error
}

// BrowserFunc adapts a function to BrowserOpener.
type BrowserFunc func(url string) error

func (f BrowserFunc) Open(url string) error { return f(url) }

// SystemBrowser opens the URL with the desktop's default browser.
type SystemBrowser struct{}

func (SystemBrowser) Open(url string) error { return browser.OpenURL(url) }

// LogOpener only logs the URL, for headless hosts.
type LogOpener struct{}

func (LogOpener) Open(url string) error {
	slog.Info("open this URL to authorize", slog.String("component", "oauth"), slog.String("url", url))
	return nil
}
