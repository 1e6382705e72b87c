package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeResource is a controllable stand-in for a browser tab.
type fakeResource struct {
	mu     sync.Mutex
	url    string
	urlErr error
	closed bool
	attrs  map[string]map[string]string // selector -> attribute -> value
	texts  map[string]string            // selector -> inner text

	closeCalls atomic.Int32
}

func newFakeResource() *fakeResource {
	return &fakeResource{
		url:   "https://example.com/search",
		attrs: make(map[string]map[string]string),
		texts: make(map[string]string),
	}
}

func (f *fakeResource) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return f.url, nil
}

func (f *fakeResource) Closed(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeResource) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.attrs[selector]; ok {
		if v, ok := m[name]; ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeResource) InnerText(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[selector], nil
}

func (f *fakeResource) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeCalls.Add(1)
	return nil
}

// simulateManualClose makes every subsequent probe look like a human closed
// the window.
func (f *fakeResource) simulateManualClose() {
	f.mu.Lock()
	f.closed = true
	f.urlErr = errors.New("target closed")
	f.mu.Unlock()
}

// simulateChallenge plants the troubleshooting-link marker in the fake DOM.
func (f *fakeResource) simulateChallenge() {
	f.mu.Lock()
	f.attrs["a#troubleshooting"] = map[string]string{
		"href": "https://support.example.com/Troubleshooting-Cloudflare-Errors",
	}
	f.mu.Unlock()
}

// fakeProvider hands out fakeResources and can be told to fail or to block
// mid-acquire until released.
type fakeProvider struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{} // when set, Acquire blocks until it is closed
	entered  chan struct{} // when set, closed once Acquire has been entered
	acquired []*fakeResource
}

func (p *fakeProvider) Acquire(context.Context, StartParams) (Resource, error) {
	p.mu.Lock()
	if p.entered != nil {
		close(p.entered)
		p.entered = nil
	}
	gate, err := p.gate, p.err
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	r := newFakeResource()
	p.mu.Lock()
	p.acquired = append(p.acquired, r)
	p.mu.Unlock()
	return r, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.acquired)
}

func (p *fakeProvider) last() *fakeResource {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.acquired) == 0 {
		return nil
	}
	return p.acquired[len(p.acquired)-1]
}

// countingTask performs gated no-op actions in a loop until the gate refuses,
// counting how many executed.
type countingTask struct {
	actions atomic.Int32
}

func (t *countingTask) Run(ctx context.Context, s *Session) error {
	for {
		err := s.Do(ctx, "noop", func(context.Context) error {
			t.actions.Add(1)
			s.Activity().Action("performed a step")
			return nil
		})
		if err != nil {
			return err
		}
	}
}

// fastOptions returns registry options tuned for tests: no pacing, quick
// pause polling, small stop timeout.
func fastOptions() Options {
	return Options{
		Pacing: PacingConfig{
			Debug:             true,
			PausePollInterval: 10 * time.Millisecond,
		},
		StopTimeout: 2 * time.Second,
	}
}
