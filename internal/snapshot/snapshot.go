package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polzovatel/web-state-crawler/internal/browser"
)

const (
	// MaxElements bounds each element list so prompt and hash cost stay flat
	// no matter how large the page is.
	MaxElements = 100
	// MaxTextLen bounds every captured text field.
	MaxTextLen = 200
)

// Element describes one interactive node. IDs are assigned sequentially at
// extraction time and are only meaningful within the snapshot that produced
// them; the same logical element gets a fresh id on the next extraction.
type Element struct {
	ID           int               `json:"id"`
	Tag          string            `json:"tag"`
	Attrs        map[string]string `json:"attrs"`
	Text         string            `json:"text"`
	Accessible   string            `json:"accessible"`
	CurrentValue string            `json:"current_value,omitempty"`
}

// Snapshot is the canonical structural description of the current view.
type Snapshot struct {
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Clickables []Element `json:"clickables"`
	Fillables  []Element `json:"fillables"`
}

// Summary is the one-line description handed to the planner and the logs.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%s %s clickables:%d fillables:%d", s.Title, s.URL, len(s.Clickables), len(s.Fillables))
}

// Observation pairs a snapshot with its identity digest. ScreenshotHash is a
// perceptual signal captured for diagnostics only; it never participates in
// state identity because rendering is not deterministic.
type Observation struct {
	Snapshot       Snapshot
	Fingerprint    string
	ScreenshotHash string
}

// extractScript walks the live DOM, captures bounded descriptions of the
// clickable and fillable elements, and tags each one with its assigned id so
// the controller can retarget it later in the same observation window.
// Attribute capture is restricted to a fixed allow-list.
const extractScript = `(tag) => {
	const allow = ['id','class','name','placeholder','aria-label','role','href','type','title','alt','value'];
	function describe(n) {
		const o = {tag: n.tagName.toLowerCase(), attrs: {}, text: ''};
		for (const a of Array.from(n.attributes || [])) {
			if (allow.includes(a.name)) o.attrs[a.name] = a.value;
		}
		o.text = (n.textContent || '').trim().slice(0, 200);
		return o;
	}
	let counter = 0;
	const clickables = Array.from(document.querySelectorAll("a,button,input[type=button],input[type=submit],[role=button]"))
		.slice(0, 100).map(el => {
			const info = describe(el);
			info.id = counter++;
			el.setAttribute(tag, String(info.id));
			try {
				info.accessible = el.getAttribute('aria-label') || el.getAttribute('title') || '';
			} catch (e) { info.accessible = ''; }
			return info;
		});
	const fillables = Array.from(document.querySelectorAll("input:not([type=button]):not([type=submit]):not([type=hidden]),textarea,select"))
		.slice(0, 100).map(el => {
			const info = describe(el);
			info.id = counter++;
			el.setAttribute(tag, String(info.id));
			try {
				info.accessible = el.getAttribute('aria-label') || el.getAttribute('title') || el.getAttribute('placeholder') || '';
				info.current_value = el.value || '';
			} catch (e) {
				info.accessible = '';
				info.current_value = '';
			}
			return info;
		});
	return {title: document.title || '', url: location.href, clickables, fillables};
}`

// Collect extracts a snapshot from the live page and computes its
// fingerprint. Extraction mutates the page: every captured element is tagged
// with its id, replacing tags from any earlier extraction.
func Collect(ctx context.Context, ctrl browser.Controller) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	val, err := ctrl.Page().Evaluate(extractScript, browser.TagAttribute)
	if err != nil {
		return Observation{}, fmt.Errorf("extract snapshot: %w", err)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return Observation{}, fmt.Errorf("encode snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Observation{}, fmt.Errorf("decode snapshot: %w", err)
	}
	clamp(&snap)

	obs := Observation{Snapshot: snap, Fingerprint: Fingerprint(snap)}

	// Screenshot failure is not fatal; the structural snapshot is the state.
	if shot, err := ctrl.Screenshot(ctx); err == nil {
		obs.ScreenshotHash = hashBytes(shot)
	}
	return obs, nil
}

// clamp enforces the size bounds on the Go side as well, so the canonical
// form does not depend on the extraction script honoring them.
func clamp(s *Snapshot) {
	if len(s.Clickables) > MaxElements {
		s.Clickables = s.Clickables[:MaxElements]
	}
	if len(s.Fillables) > MaxElements {
		s.Fillables = s.Fillables[:MaxElements]
	}
	for i := range s.Clickables {
		clampElement(&s.Clickables[i])
	}
	for i := range s.Fillables {
		clampElement(&s.Fillables[i])
	}
}

func clampElement(e *Element) {
	e.Text = truncate(e.Text, MaxTextLen)
	e.Accessible = truncate(e.Accessible, MaxTextLen)
	e.CurrentValue = truncate(e.CurrentValue, MaxTextLen)
	for k, v := range e.Attrs {
		if len(v) > MaxTextLen {
			e.Attrs[k] = truncate(v, MaxTextLen)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
