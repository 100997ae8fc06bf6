// Package chrome implements the browser capability on a real Chromium
// instance driven over CDP. Element refs are data attributes stamped onto
// matched nodes, so they survive DOM reshuffling but die with the document,
// which is exactly the staleness contract.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/internal/browser"
)

// Config carries the launch flags and policy for a Chrome session.
type Config struct {
	Headless          bool
	DisableGPU        bool
	ExecPath          string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	Args              []string
	NavigationTimeout time.Duration
	AllowedDomains    []string
	BlockedDomains    []string
}

// Session owns one browser tab from launch to Close.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    Config

	allocStop context.CancelFunc
	ctx       context.Context
	stop      context.CancelFunc

	mu         sync.Mutex
	generation uint64
	currentURL string
	closed     bool

	closeOnce sync.Once
}

var _ browser.Capability = (*Session)(nil)

// execOptions translates the config into allocator options. The sandbox and
// shm flags keep Chrome alive in containers.
func execOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}

	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			if !strings.HasPrefix(arg, "--") {
				arg = "--" + arg
			}
			opts = append(opts, chromedp.Flag(arg, true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := parts[0]
		if !strings.HasPrefix(key, "--") {
			key = "--" + key
		}
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// New launches the browser eagerly so a missing or broken Chrome binary
// fails here rather than on the first operation. The session detaches from
// the caller's context; its lifetime ends at Close.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:     uuid.New().String(),
		cfg:    cfg,
		logger: logger,
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.String("backend", "chrome"))

	allocCtx, allocStop := chromedp.NewExecAllocator(context.Background(), execOptions(cfg)...)
	s.allocStop = allocStop

	sugar := s.logger.Sugar()
	s.ctx, s.stop = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	startCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		s.stop()
		s.allocStop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	s.logger.Debug("Browser session started", zap.Bool("headless", cfg.Headless))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Generation returns the DOM generation counter.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CurrentURL returns the live location, falling back to the last navigated
// URL when the tab cannot be queried.
func (s *Session) CurrentURL() string {
	if s.isClosed() {
		return s.cachedURL()
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return s.cachedURL()
	}
	return loc
}

func (s *Session) cachedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

// Close shuts the browser down gracefully. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Warn("Browser did not exit cleanly", zap.Error(err))
		}
		s.stop()
		s.allocStop()
		s.logger.Debug("Browser session closed")
	})
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// run executes CDP actions on the session's browser context, bounded by the
// caller's context. The derived context keeps the CDP connection values.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return errors.New("session is closed")
	}
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) eval(ctx context.Context, js string, out any) error {
	return s.run(ctx, chromedp.Evaluate(js, out))
}

// -- Navigation --

// Navigate drives the tab to the URL. The domain policy is checked before
// the request and again on the landing host, since in-browser redirects are
// invisible to us; a blocked landing page is immediately abandoned.
func (s *Session) Navigate(ctx context.Context, rawURL string, waitForLoad bool) error {
	target, err := s.resolveURL(rawURL)
	if err != nil {
		return fmt.Errorf("resolve url %q: %w", rawURL, err)
	}
	if err := browser.CheckHost(target.Hostname(), s.cfg.AllowedDomains, s.cfg.BlockedDomains); err != nil {
		return err
	}

	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	s.logger.Debug("Navigating", zap.String("url", target.String()), zap.Bool("wait_for_load", waitForLoad))
	err = s.run(navCtx, chromedp.ActionFunc(func(c context.Context) error {
		if waitForLoad {
			return chromedp.Navigate(target.String()).Do(c)
		}
		_, _, errText, err := page.Navigate(target.String()).Do(c)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigation failed: %s", errText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("navigate to %q: %w", target, err)
	}

	var loc string
	if err := s.run(navCtx, chromedp.Location(&loc)); err == nil && loc != "" {
		if landed, perr := url.Parse(loc); perr == nil && landed.Hostname() != "" {
			if perr := browser.CheckHost(landed.Hostname(), s.cfg.AllowedDomains, s.cfg.BlockedDomains); perr != nil {
				_ = s.run(ctx, chromedp.Navigate("about:blank"))
				return perr
			}
		}
	}

	s.mu.Lock()
	s.generation++
	s.currentURL = loc
	if loc == "" {
		s.currentURL = target.String()
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) resolveURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	current := s.CurrentURL()
	if current == "" || current == "about:blank" {
		return nil, fmt.Errorf("relative url %q without a loaded page", rawURL)
	}
	base, err := url.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("parse current url: %w", err)
	}
	return base.ResolveReference(parsed), nil
}

// -- Location and reads --

type locateResult struct {
	Error   string        `json:"error,omitempty"`
	Matches []locateEntry `json:"matches"`
}

type locateEntry struct {
	Ref     string `json:"ref"`
	Tag     string `json:"tag"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
}

// Locate matches elements in document order. Classification happens on the
// Go side from the tag, type and role the page reports, so both backends
// agree on kinds.
func (s *Session) Locate(ctx context.Context, criteria browser.Criteria) ([]browser.ElementRef, error) {
	if criteria.Empty() {
		return nil, fmt.Errorf("locate requires at least one criterion")
	}

	sel := criteria.Selector
	if sel == "" {
		sel = browser.InteractiveSelector
	}

	var out locateResult
	if err := s.eval(ctx, locateScript(sel, criteria.Text), &out); err != nil {
		return nil, fmt.Errorf("locate: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("invalid selector %q: %s", sel, out.Error)
	}

	gen := s.Generation()
	var refs []browser.ElementRef
	for _, m := range out.Matches {
		kind := browser.Classify(m.Tag, m.Type, m.Role)
		if criteria.Kind != "" && kind != criteria.Kind {
			continue
		}
		refs = append(refs, browser.ElementRef{
			ID:         m.Ref,
			Generation: gen,
			Kind:       kind,
			Visible:    m.Visible,
			Enabled:    m.Enabled,
		})
	}
	return refs, nil
}

func (s *Session) checkRef(ref browser.ElementRef) error {
	gen := s.Generation()
	if ref.Generation != gen {
		return fmt.Errorf("ref %s is from generation %d (now %d): %w",
			ref.ID, ref.Generation, gen, browser.ErrStaleElement)
	}
	return nil
}

// Read returns an attribute, with "text" and "value" resolved against the
// live DOM state rather than source markup.
func (s *Session) Read(ctx context.Context, ref browser.ElementRef, attribute string) (string, bool, error) {
	if err := s.checkRef(ref); err != nil {
		return "", false, err
	}

	var out struct {
		Stale bool   `json:"stale"`
		Ok    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := s.eval(ctx, readScript(ref.ID, attribute), &out); err != nil {
		return "", false, fmt.Errorf("read %q: %w", attribute, err)
	}
	if out.Stale {
		return "", false, fmt.Errorf("ref %s vanished from the page: %w", ref.ID, browser.ErrStaleElement)
	}
	return out.Value, out.Ok, nil
}

// -- Actions --

// Act performs a primitive action. Click and typing go through chromedp's
// input layer so real key and mouse events reach page listeners; the rest
// are scripted.
func (s *Session) Act(ctx context.Context, ref browser.ElementRef, action browser.Action) error {
	if err := s.checkRef(ref); err != nil {
		return err
	}

	var probe struct {
		Ok       bool `json:"ok"`
		Disabled bool `json:"disabled"`
	}
	if err := s.eval(ctx, probeScript(ref.ID), &probe); err != nil {
		return err
	}
	if !probe.Ok {
		return fmt.Errorf("ref %s vanished from the page: %w", ref.ID, browser.ErrStaleElement)
	}
	if probe.Disabled {
		switch action.Kind {
		case browser.Click, browser.TypeText, browser.Clear, browser.SelectOption:
			return fmt.Errorf("element is disabled: %w", browser.ErrNotInteractable)
		}
	}

	sel := refSelector(ref.ID)
	switch action.Kind {
	case browser.Click:
		return staleWrap(s.run(ctx, chromedp.Click(sel, chromedp.ByQuery)))
	case browser.TypeText:
		return staleWrap(s.run(ctx, chromedp.SendKeys(sel, action.Value, chromedp.ByQuery)))
	case browser.Clear:
		return s.evalOutcome(ctx, clearScript(ref.ID))
	case browser.SelectOption:
		return s.evalOutcome(ctx, selectScript(ref.ID, action.Value))
	case browser.Hover:
		return s.evalOutcome(ctx, hoverScript(ref.ID))
	case browser.ScrollIntoView:
		return staleWrap(s.run(ctx, chromedp.ScrollIntoView(sel, chromedp.ByQuery)))
	case browser.Focus:
		return staleWrap(s.run(ctx, chromedp.Focus(sel, chromedp.ByQuery)))
	case browser.Blur:
		return staleWrap(s.run(ctx, chromedp.Blur(sel, chromedp.ByQuery)))
	default:
		return fmt.Errorf("unsupported action %q", action.Kind)
	}
}

// evalOutcome runs a scripted action and maps its structured result onto the
// capability errors.
func (s *Session) evalOutcome(ctx context.Context, js string) error {
	var out struct {
		Stale   bool   `json:"stale"`
		Missing bool   `json:"missing"`
		Error   string `json:"error"`
		Ok      bool   `json:"ok"`
	}
	if err := s.eval(ctx, js, &out); err != nil {
		return err
	}
	switch {
	case out.Stale:
		return fmt.Errorf("element vanished from the page: %w", browser.ErrStaleElement)
	case out.Missing:
		return fmt.Errorf("no matching option: %w", browser.ErrNotInteractable)
	case out.Error != "":
		return fmt.Errorf("%s: %w", out.Error, browser.ErrNotInteractable)
	}
	return nil
}

// staleWrap converts CDP node-lookup failures into the stale sentinel.
func staleWrap(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "could not find node") ||
		strings.Contains(msg, "Could not find node") ||
		strings.Contains(msg, "No node with given id") ||
		strings.Contains(msg, "not belong to the document") {
		return fmt.Errorf("%s: %w", msg, browser.ErrStaleElement)
	}
	return err
}

// -- Snapshot --

// Snapshot serializes the live DOM and re-parses it into an immutable
// document, together with the location the page actually sits on.
func (s *Session) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	var rendered, title, loc string
	err := s.run(ctx,
		chromedp.Location(&loc),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(c context.Context) error {
			root, err := dom.GetDocument().Do(c)
			if err != nil {
				return err
			}
			rendered, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(c)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	var base *url.URL
	if loc != "" && loc != "about:blank" {
		base, _ = url.Parse(loc)
	}
	return &browser.Snapshot{Doc: doc, BaseURL: base, Title: title, Generation: s.Generation()}, nil
}

// combineContext derives a context from primary (keeping its values, which
// carry the CDP connection) that is also canceled when secondary is done.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
