package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	appLog "schedsync/internal/log"
)

// ErrNoNextControl means the schedule page offers no way to the next week.
var ErrNoNextControl = errors.New("portal: no next-week control on page")

// Selectors used on the portal and its Azure sign-in pages.
const (
	selAzureButton   = `input[value="Zaloguj przez Azure"]`
	selEmail         = `input[type="email"]`
	selPassword      = `input[type="password"]`
	selSubmit        = `input[type="submit"]`
	selNextWeek      = `a[href="javascript:goForward();"]`
	selDocumentRoot  = `html`
	defaultTimeout   = 5 * time.Minute
	defaultStepDelay = 3 * time.Second
	defaultWeekDelay = 2 * time.Second
	fieldWait        = 15 * time.Second
)

// staySignedIn lists the "stay signed in?" answers, tried in order.
var staySignedIn = []string{`input[value="No"]`, `input[value="Nie"]`, `#idBtn_Back`}

// Options defines one portal browsing session.
type Options struct {
	// URL is the portal landing page.
	URL string

	Email    string
	Password string

	// ShowBrowser disables headless mode.
	ShowBrowser bool

	// Timeout bounds the entire session. If zero, defaultTimeout is used.
	Timeout time.Duration

	// StepDelay is the settle time after each login step; WeekDelay after
	// each week advance. Zero selects the defaults.
	StepDelay time.Duration
	WeekDelay time.Duration

	// DebugDir receives screenshots and the final page HTML when set.
	DebugDir string
}

// Session is a logged-in browser positioned on the weekly schedule. It
// implements paginate.SnapshotProvider.
type Session struct {
	opts   Options
	base   *url.URL
	ctx    context.Context
	cancel context.CancelFunc
}

// Open launches Chromium via chromedp, signs in through Azure and opens the
// schedule view of the first album. The returned Session must be closed.
func Open(parent context.Context, opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("portal: URL is required")
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("portal: bad URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = defaultStepDelay
	}
	if opts.WeekDelay <= 0 {
		opts.WeekDelay = defaultWeekDelay
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.ShowBrowser),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	ctx, cancelTimeout := context.WithTimeout(browserCtx, opts.Timeout)

	cancel := func() {
		cancelTimeout()
		cancelBrowser()
		cancelAlloc()
	}

	s := &Session{
		opts:   opts,
		base:   base,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := s.login(); err != nil {
		s.cancel()
		return nil, err
	}
	if err := s.openSchedule(); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) login() error {
	appLog.Info("opening portal", "url", s.opts.URL)
	if err := chromedp.Run(s.ctx,
		chromedp.Navigate(s.opts.URL),
		chromedp.Sleep(s.opts.StepDelay),
	); err != nil {
		return fmt.Errorf("portal: open: %w", err)
	}

	appLog.Info("choosing Azure sign-in")
	if err := chromedp.Run(s.ctx,
		chromedp.Click(selAzureButton, chromedp.ByQuery),
		chromedp.Sleep(s.opts.StepDelay),
	); err != nil {
		return fmt.Errorf("portal: azure button: %w", err)
	}

	appLog.Info("entering email")
	if err := s.fill(selEmail, s.opts.Email); err != nil {
		return fmt.Errorf("portal: email step: %w", err)
	}

	appLog.Info("entering password")
	if err := s.fill(selPassword, s.opts.Password); err != nil {
		return fmt.Errorf("portal: password step: %w", err)
	}
	if err := chromedp.Run(s.ctx, chromedp.Sleep(s.opts.StepDelay)); err != nil {
		return err
	}

	for _, sel := range staySignedIn {
		n, err := s.count(sel)
		if err != nil {
			return fmt.Errorf("portal: stay-signed-in prompt: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := chromedp.Run(s.ctx,
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.Sleep(s.opts.StepDelay),
		); err != nil {
			return fmt.Errorf("portal: dismiss %s: %w", sel, err)
		}
		break
	}

	if err := chromedp.Run(s.ctx, chromedp.Sleep(s.opts.StepDelay)); err != nil {
		return err
	}
	s.Screenshot("debug_01_logged_in.png")
	return nil
}

// fill waits for a field, types value into it and submits the form.
func (s *Session) fill(sel, value string) error {
	wctx, cancel := context.WithTimeout(s.ctx, fieldWait)
	defer cancel()
	if err := chromedp.Run(wctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return err
	}
	return chromedp.Run(s.ctx,
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
		chromedp.Click(selSubmit, chromedp.ByQuery),
		chromedp.Sleep(s.opts.StepDelay),
	)
}

func (s *Session) openSchedule() error {
	appLog.Info("opening schedule")

	html, err := s.pageHTML()
	if err != nil {
		return fmt.Errorf("portal: read start page: %w", err)
	}
	if href := FindScheduleURL(html); href != "" {
		if err := s.navigate(href); err != nil {
			return fmt.Errorf("portal: schedule page: %w", err)
		}
	} else {
		appLog.Warn("schedule link not found, staying on current page")
	}

	html, err = s.pageHTML()
	if err != nil {
		return fmt.Errorf("portal: read schedule page: %w", err)
	}
	if href := FindAlbumLink(html); href != "" {
		appLog.Info("opening album")
		if err := s.navigate(href); err != nil {
			return fmt.Errorf("portal: album page: %w", err)
		}
	} else {
		appLog.Warn("album link not found, staying on current page")
	}

	s.Screenshot("debug_02_schedule.png")
	return nil
}

func (s *Session) navigate(href string) error {
	target, err := Resolve(s.base, href)
	if err != nil {
		return err
	}
	return chromedp.Run(s.ctx,
		chromedp.Navigate(target),
		chromedp.Sleep(s.opts.StepDelay),
	)
}

// CurrentSnapshot returns the HTML of the week currently shown.
func (s *Session) CurrentSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := s.pageHTML()
	if err != nil {
		return "", fmt.Errorf("portal: snapshot: %w", err)
	}
	return html, nil
}

// AdvanceWeek clicks the "next week" link and waits for the page to settle.
func (s *Session) AdvanceWeek(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.count(selNextWeek)
	if err != nil {
		return fmt.Errorf("portal: find next week: %w", err)
	}
	if n == 0 {
		return ErrNoNextControl
	}
	if err := chromedp.Run(s.ctx,
		chromedp.Click(selNextWeek, chromedp.ByQuery),
		chromedp.Sleep(s.opts.WeekDelay),
	); err != nil {
		return fmt.Errorf("portal: next week: %w", err)
	}
	return nil
}

// Screenshot writes a full-page PNG into DebugDir. Failures are logged only.
func (s *Session) Screenshot(name string) {
	if s.opts.DebugDir == "" {
		return
	}
	var png []byte
	if err := chromedp.Run(s.ctx, chromedp.FullScreenshot(&png, 100)); err != nil {
		appLog.Error("screenshot failed", err, "name", name)
		return
	}
	s.writeDebug(name, png)
}

// Close dumps final debug artifacts and shuts the browser down.
func (s *Session) Close() {
	if s.opts.DebugDir != "" && s.ctx.Err() == nil {
		s.Screenshot("debug_03_final.png")
		if html, err := s.pageHTML(); err == nil {
			s.writeDebug("debug_harmonogram_page.html", []byte(html))
		}
	}
	s.cancel()
}

func (s *Session) writeDebug(name string, data []byte) {
	if err := os.MkdirAll(s.opts.DebugDir, 0o755); err != nil {
		appLog.Error("debug dir unavailable", err, "dir", s.opts.DebugDir)
		return
	}
	path := filepath.Join(s.opts.DebugDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		appLog.Error("debug artifact write failed", err, "path", path)
		return
	}
	appLog.Debug("debug artifact written", "path", path)
}

func (s *Session) pageHTML() (string, error) {
	var html string
	err := chromedp.Run(s.ctx, chromedp.OuterHTML(selDocumentRoot, &html, chromedp.ByQuery))
	return html, err
}

// count reports how many nodes match sel right now, without waiting.
func (s *Session) count(sel string) (int, error) {
	var nodes []*cdp.Node
	err := chromedp.Run(s.ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return len(nodes), err
}
