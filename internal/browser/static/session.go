// Package static implements the browser capability over a plain HTTP client
// and an in-memory DOM, with no JavaScript execution. Pages are fetched,
// parsed once, and mutated locally the way a browser would mutate them:
// typing sets value attributes, clicking anchors navigates, clicking submit
// controls serializes and sends the enclosing form. It is the hermetic
// backend used for JS-free pages and for tests.
package static

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

const maxRedirects = 10

// Config carries the session's network behavior.
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	RequestsPerSecond float64
	AllowedDomains    []string
	BlockedDomains    []string
}

// Session is a pure-Go browser.Capability. All exported methods are safe for
// use from one logical flow at a time; internal locking protects the DOM
// against the snapshotting reads.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    Config
	client *http.Client

	mu         sync.RWMutex
	currentURL *url.URL
	root       *html.Node
	title      string
	generation uint64
	refs       map[string]*html.Node
}

var _ browser.Capability = (*Session)(nil)

// New builds a session with a fresh cookie jar. The client follows no
// redirects on its own; the session walks them itself so every hop passes
// the domain policy.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &Session{
		id:   uuid.New().String(),
		cfg:  cfg,
		refs: make(map[string]*html.Node),
		client: &http.Client{
			Transport: newTransport(nil, cfg.RequestsPerSecond),
			Jar:       jar,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.String("backend", "static"))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CurrentURL returns the page URL, empty before the first navigation.
func (s *Session) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentURL == nil {
		return ""
	}
	return s.currentURL.String()
}

// Generation returns the DOM generation counter.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Close releases the client's idle connections. The session keeps no
// background goroutines.
func (s *Session) Close(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

// -- Navigation --

// Navigate fetches the URL and replaces the DOM. waitForLoad is accepted for
// interface parity; parsing the response is the load here, nothing detaches.
func (s *Session) Navigate(ctx context.Context, rawURL string, waitForLoad bool) error {
	target, err := s.resolveURL(rawURL)
	if err != nil {
		return fmt.Errorf("resolve url %q: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request for %q: %w", target, err)
	}
	s.prepareHeaders(req)

	s.logger.Debug("Navigating", zap.String("url", target.String()))
	return s.execute(ctx, req)
}

// execute sends the request and follows redirects manually, enforcing the
// domain policy on every hop.
func (s *Session) execute(ctx context.Context, req *http.Request) error {
	current := req
	for i := 0; i < maxRedirects; i++ {
		if err := s.checkPolicy(current.URL); err != nil {
			return err
		}

		resp, err := s.client.Do(current)
		if err != nil {
			return fmt.Errorf("request %s: %w", current.URL, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			next, err := s.redirectRequest(ctx, resp, current)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("follow redirect: %w", err)
			}
			current = next
			continue
		}
		return s.consume(resp)
	}
	return fmt.Errorf("exceeded %d redirects", maxRedirects)
}

// redirectRequest builds the next request for a 3xx response: 301/302/303
// downgrade to GET without a body, 307/308 preserve method and body.
func (s *Session) redirectRequest(ctx context.Context, resp *http.Response, prev *http.Request) (*http.Request, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("redirect without Location header")
	}
	next, err := prev.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse Location %q: %w", location, err)
	}

	method := prev.Method
	var body *strings.Reader
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if prev.GetBody != nil {
			rc, err := prev.GetBody()
			if err != nil {
				return nil, fmt.Errorf("reuse request body: %w", err)
			}
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(rc); err != nil {
				return nil, err
			}
			body = strings.NewReader(buf.String())
		}
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, next.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, next.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	s.prepareHeaders(req)
	req.Header.Set("Referer", prev.URL.String())
	if ct := prev.Header.Get("Content-Type"); ct != "" && body != nil {
		req.Header.Set("Content-Type", ct)
	}
	return req, nil
}

// consume parses the terminal response into the new DOM generation.
func (s *Session) consume(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn("Navigation returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("url", resp.Request.URL.String()))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		s.logger.Debug("Non-HTML response, DOM left empty", zap.String("content_type", contentType))
		s.setState(resp.Request.URL, nil)
		return nil
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		s.setState(resp.Request.URL, nil)
		return fmt.Errorf("parse html from %q: %w", resp.Request.URL, err)
	}
	s.setState(resp.Request.URL, root)
	return nil
}

// setState swaps in a new page: refs from prior generations become stale.
func (s *Session) setState(u *url.URL, root *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentURL = u
	s.root = root
	s.generation++
	s.refs = make(map[string]*html.Node)
	s.title = ""
	if root != nil {
		s.title = strings.TrimSpace(goquery.NewDocumentFromNode(root).Find("title").First().Text())
	}
	s.logger.Debug("Page state updated",
		zap.String("url", u.String()),
		zap.String("title", s.title),
		zap.Uint64("generation", s.generation))
}

func (s *Session) resolveURL(rawURL string) (*url.URL, error) {
	s.mu.RLock()
	base := s.currentURL
	s.mu.RUnlock()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	if base == nil {
		return nil, fmt.Errorf("relative url %q without a loaded page", rawURL)
	}
	return base.ResolveReference(parsed), nil
}

func (s *Session) prepareHeaders(req *http.Request) {
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if s.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	}
	if ref := s.CurrentURL(); ref != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", ref)
	}
}

func (s *Session) checkPolicy(u *url.URL) error {
	return browser.CheckHost(u.Hostname(), s.cfg.AllowedDomains, s.cfg.BlockedDomains)
}

// -- Location and reads --

// Locate matches elements against the criteria in document order and hands
// out refs bound to the current generation.
func (s *Session) Locate(ctx context.Context, criteria browser.Criteria) ([]browser.ElementRef, error) {
	if criteria.Empty() {
		return nil, fmt.Errorf("locate requires at least one criterion")
	}

	sel := criteria.Selector
	if sel == "" {
		sel = browser.InteractiveSelector
	}
	matcher, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return nil, nil
	}

	var refs []browser.ElementRef
	for _, n := range matcher.MatchAll(s.root) {
		if criteria.Kind != "" && classifyNode(n) != criteria.Kind {
			continue
		}
		if criteria.Text != "" && !matchesText(n, criteria.Text) {
			continue
		}
		refs = append(refs, s.registerLocked(n))
	}
	return refs, nil
}

// registerLocked assigns the node its generation-scoped ref.
func (s *Session) registerLocked(n *html.Node) browser.ElementRef {
	id := nodeFingerprint(n)
	s.refs[id] = n
	return browser.ElementRef{
		ID:         id,
		Generation: s.generation,
		Kind:       classifyNode(n),
		Visible:    nodeVisible(n),
		Enabled:    !nodeDisabled(n),
	}
}

// nodeLocked resolves a ref back to its live node, detecting staleness from
// generation mismatch, unknown ids and detached nodes.
func (s *Session) nodeLocked(ref browser.ElementRef) (*html.Node, error) {
	if ref.Generation != s.generation {
		return nil, fmt.Errorf("ref %s is from generation %d (now %d): %w",
			ref.ID, ref.Generation, s.generation, browser.ErrStaleElement)
	}
	n, ok := s.refs[ref.ID]
	if !ok {
		return nil, fmt.Errorf("unknown ref %s: %w", ref.ID, browser.ErrStaleElement)
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == s.root {
			return n, nil
		}
	}
	return nil, fmt.Errorf("ref %s is detached: %w", ref.ID, browser.ErrStaleElement)
}

// Read returns an attribute, with "text" and "value" resolved semantically.
func (s *Session) Read(ctx context.Context, ref browser.ElementRef, attribute string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.nodeLocked(ref)
	if err != nil {
		return "", false, err
	}

	switch attribute {
	case schemas.AttributeText:
		return innerText(n), true, nil
	case schemas.AttributeValue:
		return controlValue(n)
	case browser.AttributeTag:
		return strings.ToLower(n.Data), true, nil
	default:
		v, ok := findAttr(n, attribute)
		return v, ok, nil
	}
}

// controlValue reads the live value of a form control.
func controlValue(n *html.Node) (string, bool, error) {
	switch strings.ToLower(n.Data) {
	case "input":
		v, _ := findAttr(n, "value")
		return v, true, nil
	case "textarea":
		return innerText(n), true, nil
	case "select":
		for _, opt := range descendantOptions(n) {
			if _, ok := findAttr(opt, "selected"); ok {
				return optionValue(opt), true, nil
			}
		}
		if opts := descendantOptions(n); len(opts) > 0 {
			return optionValue(opts[0]), true, nil
		}
		return "", true, nil
	default:
		v, ok := findAttr(n, "value")
		return v, ok, nil
	}
}

// -- Actions --

// Act performs a primitive action. Click consequences that re-enter the
// network layer (anchor navigation, form submission) run after the DOM lock
// is released.
func (s *Session) Act(ctx context.Context, ref browser.ElementRef, action browser.Action) error {
	s.mu.Lock()
	n, err := s.nodeLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var followup func(context.Context) error
	switch action.Kind {
	case browser.Click:
		followup, err = s.clickLocked(n)
	case browser.TypeText:
		err = typeInto(n, action.Value)
	case browser.Clear:
		err = typeInto(n, "")
	case browser.SelectOption:
		err = selectOption(n, action.Value)
	case browser.Hover, browser.ScrollIntoView, browser.Focus, browser.Blur:
		// No layout engine or focus ring here; these succeed without
		// observable effect.
		s.logger.Debug("Action is a no-op in the static backend", zap.String("action", string(action.Kind)))
	default:
		err = fmt.Errorf("unsupported action %q", action.Kind)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if followup != nil {
		return followup(ctx)
	}
	return nil
}

// clickLocked applies the click's local effect and returns any network
// followup to run unlocked.
func (s *Session) clickLocked(n *html.Node) (func(context.Context) error, error) {
	if nodeDisabled(n) {
		return nil, fmt.Errorf("element is disabled: %w", browser.ErrNotInteractable)
	}

	tag := strings.ToLower(n.Data)
	typ := strings.ToLower(attrOr(n, "type", ""))

	if tag == "a" {
		href, ok := findAttr(n, "href")
		if ok && href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return func(ctx context.Context) error { return s.Navigate(ctx, href, true) }, nil
		}
		return nil, nil
	}

	if isSubmitControl(tag, typ) {
		if form := ancestorForm(n); form != nil {
			payload := serializeForm(form)
			return func(ctx context.Context) error { return s.submit(ctx, payload) }, nil
		}
		return nil, nil
	}

	if tag == "input" && typ == "checkbox" {
		if _, ok := findAttr(n, "checked"); ok {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "checked")
		}
		return nil, nil
	}
	if tag == "input" && typ == "radio" {
		selectRadio(n)
		return nil, nil
	}

	// Script-driven click handlers cannot fire without a JS engine.
	s.logger.Debug("Click had no navigable consequence", zap.String("tag", tag))
	return nil, nil
}

// typeInto writes text into a text-accepting element, or clears it when text
// is empty.
func typeInto(n *html.Node, text string) error {
	if nodeDisabled(n) {
		return fmt.Errorf("element is disabled: %w", browser.ErrNotInteractable)
	}

	switch strings.ToLower(n.Data) {
	case "textarea":
		replaceText(n, text)
		return nil
	case "input":
		typ := strings.ToLower(attrOr(n, "type", "text"))
		if !acceptsText(typ) {
			return fmt.Errorf("input type %q does not accept text: %w", typ, browser.ErrNotInteractable)
		}
		setAttr(n, "value", text)
		return nil
	default:
		if strings.EqualFold(attrOr(n, "contenteditable", ""), "true") {
			replaceText(n, text)
			return nil
		}
		return fmt.Errorf("element %q does not accept text: %w", n.Data, browser.ErrNotInteractable)
	}
}

// selectOption marks the option matching value (by value attribute, then by
// visible label) as selected and deselects the rest.
func selectOption(n *html.Node, value string) error {
	if strings.ToLower(n.Data) != "select" {
		return fmt.Errorf("element %q is not a select: %w", n.Data, browser.ErrNotInteractable)
	}
	if nodeDisabled(n) {
		return fmt.Errorf("select is disabled: %w", browser.ErrNotInteractable)
	}

	options := descendantOptions(n)
	match := -1
	for i, opt := range options {
		if optionValue(opt) == value {
			match = i
			break
		}
	}
	if match < 0 {
		for i, opt := range options {
			if strings.EqualFold(innerText(opt), value) {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return fmt.Errorf("no option %q in select: %w", value, browser.ErrNotInteractable)
	}

	for i, opt := range options {
		if i == match {
			setAttr(opt, "selected", "selected")
		} else {
			removeAttr(opt, "selected")
		}
	}
	return nil
}

// selectRadio checks the radio and unchecks the rest of its name group.
func selectRadio(n *html.Node) {
	name := attrOr(n, "name", "")
	if name == "" {
		setAttr(n, "checked", "checked")
		return
	}

	scope := ancestorForm(n)
	if scope == nil {
		scope = n
		for scope.Parent != nil {
			scope = scope.Parent
		}
	}
	for _, radio := range matchingInputs(scope, "radio", name) {
		if radio == n {
			setAttr(radio, "checked", "checked")
		} else {
			removeAttr(radio, "checked")
		}
	}
}

// -- Form submission --

type formSubmission struct {
	action string
	method string
	values url.Values
}

// serializeForm captures the form's method, action and successful controls.
// Caller holds the DOM lock.
func serializeForm(form *html.Node) formSubmission {
	sub := formSubmission{
		action: attrOr(form, "action", ""),
		method: http.MethodGet,
		values: url.Values{},
	}
	if strings.EqualFold(attrOr(form, "method", ""), "post") {
		sub.method = http.MethodPost
	}

	walkElements(form, func(n *html.Node) {
		name := attrOr(n, "name", "")
		if name == "" || nodeDisabled(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "input":
			switch strings.ToLower(attrOr(n, "type", "text")) {
			case "checkbox", "radio":
				if _, checked := findAttr(n, "checked"); checked {
					v := attrOr(n, "value", "on")
					sub.values.Add(name, v)
				}
			case "submit", "button", "image", "reset", "file":
				// Not successful controls here.
			default:
				sub.values.Add(name, attrOr(n, "value", ""))
			}
		case "textarea":
			sub.values.Add(name, innerText(n))
		case "select":
			for _, opt := range descendantOptions(n) {
				if _, ok := findAttr(opt, "selected"); ok {
					sub.values.Add(name, optionValue(opt))
				}
			}
		}
	})
	return sub
}

// submit sends the serialized form and consumes the response as the next
// page.
func (s *Session) submit(ctx context.Context, f formSubmission) error {
	target, err := s.resolveURL(f.action)
	if err != nil {
		return fmt.Errorf("resolve form action %q: %w", f.action, err)
	}

	var req *http.Request
	if f.method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(f.values.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		u := *target
		if u.RawQuery == "" {
			u.RawQuery = f.values.Encode()
		} else {
			u.RawQuery += "&" + f.values.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
	}

	s.prepareHeaders(req)
	req.Header.Set("Referer", s.CurrentURL())
	return s.execute(ctx, req)
}

// -- Snapshot --

// Snapshot renders and re-parses the DOM so the returned document is immune
// to later mutations, keeping repeated extractions over one snapshot
// identical.
func (s *Session) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	s.mu.RLock()
	root, base, title, gen := s.root, s.currentURL, s.title, s.generation
	var buf bytes.Buffer
	var renderErr error
	if root == nil {
		buf.WriteString("<html><head></head><body></body></html>")
	} else {
		renderErr = html.Render(&buf, root)
	}
	s.mu.RUnlock()

	if renderErr != nil {
		return nil, fmt.Errorf("render snapshot: %w", renderErr)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &browser.Snapshot{Doc: doc, BaseURL: base, Title: title, Generation: gen}, nil
}

// -- Node helpers --

var hasherPool = sync.Pool{
	New: func() any { return fnv.New64a() },
}

// nodeFingerprint derives a stable id from the node's path: the same node
// yields the same id for the lifetime of a generation, which keeps repeated
// resolution deterministic.
func nodeFingerprint(n *html.Node) string {
	h := hasherPool.Get().(hash.Hash64)
	h.Reset()
	defer hasherPool.Put(h)

	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		idx := 1
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode && sib.Data == cur.Data {
				idx++
			}
		}
		fmt.Fprintf(h, "%s|%d/", cur.Data, idx)
	}
	return fmt.Sprintf("el-%016x", h.Sum64())
}

func classifyNode(n *html.Node) schemas.ElementKind {
	return browser.Classify(n.Data, attrOr(n, "type", ""), attrOr(n, "role", ""))
}

// matchesText checks the needle against the element's accessible text:
// rendered text plus labeling attributes.
func matchesText(n *html.Node, needle string) bool {
	needle = strings.ToLower(needle)
	if strings.Contains(strings.ToLower(innerText(n)), needle) {
		return true
	}
	for _, attr := range []string{"aria-label", "placeholder", "name", "id", "value", "title", "alt"} {
		if v, ok := findAttr(n, attr); ok && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	// A wrapping label contributes to the control's accessible name.
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "label") {
			return strings.Contains(strings.ToLower(innerText(cur)), needle)
		}
	}
	return false
}

// nodeVisible approximates visibility without a layout engine: hidden
// attributes, hidden inputs and inline display/visibility styles on the
// element or its ancestors.
func nodeVisible(n *html.Node) bool {
	if strings.ToLower(n.Data) == "input" &&
		strings.EqualFold(attrOr(n, "type", ""), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if _, ok := findAttr(cur, "hidden"); ok {
			return false
		}
		if strings.EqualFold(attrOr(cur, "aria-hidden", ""), "true") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attrOr(cur, "style", ""), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// nodeDisabled reports the disabled attribute on the element or an enclosing
// fieldset/optgroup.
func nodeDisabled(n *html.Node) bool {
	if _, ok := findAttr(n, "disabled"); ok {
		return true
	}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(cur.Data)
		if tag != "fieldset" && tag != "optgroup" {
			continue
		}
		if _, ok := findAttr(cur, "disabled"); ok {
			return true
		}
	}
	return false
}

func isSubmitControl(tag, typ string) bool {
	return (tag == "button" && (typ == "submit" || typ == "")) ||
		(tag == "input" && typ == "submit")
}

// acceptsText rejects input types whose value is not free text.
func acceptsText(typ string) bool {
	switch typ {
	case "checkbox", "radio", "submit", "button", "reset", "image", "file", "hidden":
		return false
	default:
		return true
	}
}

func ancestorForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.ToLower(cur.Data) == "form" {
			return cur
		}
	}
	return nil
}

// descendantOptions collects option descendants in document order, including
// those nested in optgroups.
func descendantOptions(sel *html.Node) []*html.Node {
	var options []*html.Node
	walkElements(sel, func(n *html.Node) {
		if strings.ToLower(n.Data) == "option" {
			options = append(options, n)
		}
	})
	return options
}

// optionValue is the value attribute, or the option's text when absent.
func optionValue(opt *html.Node) string {
	if v, ok := findAttr(opt, "value"); ok {
		return v
	}
	return innerText(opt)
}

func matchingInputs(scope *html.Node, inputType, name string) []*html.Node {
	var nodes []*html.Node
	walkElements(scope, func(n *html.Node) {
		if strings.ToLower(n.Data) != "input" {
			return
		}
		if strings.EqualFold(attrOr(n, "type", ""), inputType) && attrOr(n, "name", "") == name {
			nodes = append(nodes, n)
		}
	})
	return nodes
}

// walkElements visits element descendants of root in document order, root
// excluded.
func walkElements(root *html.Node, visit func(*html.Node)) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			visit(c)
			walkElements(c, visit)
		} else {
			walkElements(c, visit)
		}
	}
}

// innerText concatenates text descendants with whitespace collapsed,
// skipping script and style bodies.
func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			sb.WriteString(cur.Data)
			sb.WriteByte(' ')
			return
		}
		if cur.Type == html.ElementNode {
			switch strings.ToLower(cur.Data) {
			case "script", "style":
				return
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// replaceText swaps the node's children for a single text node, or none when
// text is empty.
func replaceText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func findAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, key, fallback string) string {
	if v, ok := findAttr(n, key); ok {
		return v
	}
	return fallback
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
