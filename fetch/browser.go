package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"

	"odds_harvester/config"
)

// BrowserFetcher renders pages through a real Chromium instance for dates
// where the odds site serves its tables behind client-side JS. The browser is
// launched lazily on the first fetch and reused for the life of the process.
type BrowserFetcher struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
	proxyURL    string
}

func NewBrowserFetcher(cfg *config.FetchConfig) *BrowserFetcher {
	return &BrowserFetcher{proxyURL: cfg.ProxyURL}
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if f.proxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: f.proxyURL}
	}

	f.browser, err = f.pw.Chromium.Launch(opts)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := f.ensureBrowser(); err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}

	page, err := f.browser.NewPage()
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	defer page.Close()

	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}

	content, err := page.Content()
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	return []byte(content), nil
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		f.browser.Close()
		f.browser = nil
	}
	if f.pw != nil {
		f.pw.Stop()
		f.pw = nil
	}
	f.initialized = false
}
