package playback

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// fakePage is a scriptable schemas.Page. Its Evaluate dispatcher recognizes
// the scripts the playback pipeline emits and answers from canned state;
// every interaction is recorded for assertions.
type fakePage struct {
	mu sync.Mutex

	url      string
	title    string
	elements []schemas.PageElement

	collectErr error
	probeErr   error
	probeValue int
	navErr     error
	mouseErr   error
	shotErr    error
	closed     bool
	screenshot []byte

	// evalHook intercepts Evaluate before the built-in dispatcher. Return
	// handled=true to suppress the default behavior.
	evalHook func(script string, out any) (handled bool, err error)

	scripts     []string
	mouseEvents []schemas.MouseEventData
	keyChords   []schemas.KeyEventData
	typed       []string
	navigations []string

	navFinished []func(string)
	inPageNav   []func(string)
}

func newFakePage() *fakePage {
	return &fakePage{
		url:        "https://bank.example/login",
		title:      "Example Bank",
		probeValue: 2,
		screenshot: []byte("\x89PNG"),
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	if p.navErr != nil {
		err := p.navErr
		p.mu.Unlock()
		return err
	}
	p.url = url
	callbacks := append([]func(string){}, p.navFinished...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(url)
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	hook := p.evalHook
	p.mu.Unlock()

	if hook != nil {
		if handled, err := hook(script, out); handled {
			return err
		}
	}

	switch {
	case script == probeScript:
		if p.probeErr != nil {
			return p.probeErr
		}
		return assignResult(out, p.probeValue)
	case strings.Contains(script, "document.querySelectorAll(selectors)"):
		if p.collectErr != nil {
			return p.collectErr
		}
		return assignResult(out, p.currentElements())
	case strings.Contains(script, "document.readyState"):
		return assignResult(out, "complete")
	case strings.Contains(script, "document.title"):
		return assignResult(out, p.title)
	case strings.Contains(script, "el.click()"):
		return assignResult(out, true)
	case strings.Contains(script, "new Event('input'"):
		return assignResult(out, "ok")
	case strings.Contains(script, "new Event('change'"):
		return assignResult(out, "ok")
	default:
		return nil
	}
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mouseErr != nil {
		return p.mouseErr
	}
	p.mouseEvents = append(p.mouseEvents, data)
	return nil
}

func (p *fakePage) DispatchKeyChord(ctx context.Context, data schemas.KeyEventData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyChords = append(p.keyChords, data)
	return nil
}

func (p *fakePage) SendKeys(ctx context.Context, keys string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, keys)
	return nil
}

func (p *fakePage) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return p.screenshot, nil
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) OnNavigationFinished(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navFinished = append(p.navFinished, fn)
}

func (p *fakePage) OnInPageNavigation(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inPageNav = append(p.inPageNav, fn)
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) currentElements() []schemas.PageElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.PageElement{}, p.elements...)
}

func (p *fakePage) setElements(els []schemas.PageElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = append([]schemas.PageElement{}, els...)
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *fakePage) scriptCount(substr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.scripts {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func (p *fakePage) recordedMouseEvents() []schemas.MouseEventData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.MouseEventData{}, p.mouseEvents...)
}

func (p *fakePage) recordedChords() []schemas.KeyEventData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.KeyEventData{}, p.keyChords...)
}

func (p *fakePage) recordedKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.typed...)
}

// fireInPageNavigation simulates a history/hash navigation that does not
// reload the document.
func (p *fakePage) fireInPageNavigation(url string) {
	p.mu.Lock()
	p.url = url
	callbacks := append([]func(string){}, p.inPageNav...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(url)
	}
}

// assignResult mimics the JSON round trip a real evaluation result takes.
func assignResult(out any, v any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
