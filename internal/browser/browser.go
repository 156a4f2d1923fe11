package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 3 * time.Second
	headlessEnv          = "CRAWLER_HEADLESS"

	// TagAttribute is written onto every element the extractor captures so
	// the controller can relocate it by its snapshot id. Tags are
	// overwritten on the next extraction; an id is only valid within the
	// observation window that assigned it.
	TagAttribute = "data-crawl-id"
)

// Controller exposes the automation operations the crawler needs.
type Controller interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	ClickTagged(ctx context.Context, id int) error
	FillTagged(ctx context.Context, id int, value string) error
	Screenshot(ctx context.Context) ([]byte, error)
	SaveState(ctx context.Context, path string) error
	Page() playwright.Page
}

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, false)
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

func (l *Launcher) NewController(ctx context.Context, storagePath string) (Controller, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}
	context, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: context, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Page() playwright.Page {
	return c.page
}

func (c *controller) Close(_ context.Context) error {
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

// ClickTagged locates the element carrying the given crawl tag, scrolls it
// into view and clicks it. Each primitive call carries its own timeout.
func (c *controller) ClickTagged(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.tagged(id)
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(actionMillis()),
	}); err != nil {
		return wrap(err)
	}
	if err := first.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(actionMillis()),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(actionMillis()),
	}))
}

// FillTagged clears the tagged element and writes the new value.
func (c *controller) FillTagged(ctx context.Context, id int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.tagged(id)
	if err := first.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(actionMillis()),
	}); err != nil {
		return wrap(err)
	}
	if err := first.Clear(playwright.LocatorClearOptions{
		Timeout: playwright.Float(actionMillis()),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(actionMillis()),
	}))
}

func (c *controller) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
	})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

func (c *controller) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := c.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *controller) tagged(id int) playwright.Locator {
	return c.page.Locator(fmt.Sprintf(`[%s="%d"]`, TagAttribute, id)).First()
}

func actionMillis() float64 {
	return float64(defaultActionTimeout.Milliseconds())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
