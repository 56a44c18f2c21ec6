package launcher

import (
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// URLOpener shows a URL to the user.
type URLOpener interface {
	Open(url string) error
}

// BrowserOpener opens URLs in the system default browser.
type BrowserOpener struct {
	logger *zap.Logger
}

// NewBrowserOpener returns an opener using the platform's URL handler.
func NewBrowserOpener(logger *zap.Logger) *BrowserOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserOpener{logger: logger}
}

// Open implements URLOpener.
func (b *BrowserOpener) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	b.logger.Info("Opened tool URL", zap.String("url", url))
	// Reap the helper; its exit status says nothing about the page.
	go func() { _ = cmd.Wait() }()
	return nil
}
