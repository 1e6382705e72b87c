package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/config"
	"github.com/xkilldash9x/huntr-cli/internal/extract"
	"github.com/xkilldash9x/huntr-cli/internal/scoring"
	"github.com/xkilldash9x/huntr-cli/internal/session"
	"github.com/xkilldash9x/huntr-cli/internal/store"
)

const zipPageOne = `
<article class="job_result">
  <h2 class="title"><a href="/job/1">Go Engineer</a></h2>
  <a class="company_name">Acme</a>
  <p class="location">Remote</p>
</article>
<article class="job_result">
  <h2 class="title"><a href="/job/2">COBOL Developer</a></h2>
  <a class="company_name">Legacy Inc</a>
</article>
<a class="next_page" href="/search?page=2">Next</a>`

const zipPageTwo = `
<article class="job_result">
  <h2 class="title"><a href="/job/3">Platform Engineer</a></h2>
  <a class="company_name">Globex</a>
</article>`

// fakePage serves canned result pages and records every browser touch.
type fakePage struct {
	mu          sync.Mutex
	pages       []string
	idx         int
	url         string
	navigations []string
	clicks      []string
}

func newFakePage(pages ...string) *fakePage {
	return &fakePage{pages: pages, url: "https://z.example/search"}
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Closed(context.Context) bool { return false }

func (p *fakePage) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (p *fakePage) InnerText(context.Context, string) (string, error) { return "", nil }

func (p *fakePage) Close(context.Context) error { return nil }

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	p.url = url
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if selector == "a.next_page" && p.idx < len(p.pages)-1 {
		p.idx++
	}
	return nil
}

func (p *fakePage) ScrollBy(context.Context, int, int) error { return nil }

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[p.idx], nil
}

type fakePageProvider struct {
	page *fakePage
}

func (p *fakePageProvider) Acquire(context.Context, session.StartParams) (session.Resource, error) {
	return p.page, nil
}

// scorerFunc adapts a function to scoring.Engine.
type scorerFunc func(rec extract.Record) (scoring.Decision, error)

func (f scorerFunc) Score(_ context.Context, rec extract.Record, _ map[string]string) (scoring.Decision, error) {
	return f(rec)
}

// memStore captures persisted outcomes.
type memStore struct {
	mu        sync.Mutex
	apps      []store.Application
	summaries []store.RunSummary
}

func (m *memStore) UpsertApplication(_ context.Context, app store.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps = append(m.apps, app)
	return nil
}

func (m *memStore) UpsertRunSummary(_ context.Context, sum store.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, sum)
	return nil
}

func testDeps(scorer scoring.Engine, st RecordStore, hunt config.HuntConfig) Deps {
	return Deps{
		Logger:    zap.NewNop(),
		Extractor: extract.NewDOMExtractor(zap.NewNop()),
		Scorer:    scorer,
		Store:     st,
		Hunt:      hunt,
	}
}

func runHunt(t *testing.T, page *fakePage, deps Deps, params session.StartParams) session.Status {
	t.Helper()
	r := session.NewRegistry(zap.NewNop(), &fakePageProvider{page: page}, NewFactory(deps), session.Options{
		Pacing:      session.PacingConfig{Debug: true, PausePollInterval: 10 * time.Millisecond},
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, r.Start("run-1", params))

	var final session.Status
	require.Eventually(t, func() bool {
		info, err := r.StatusOf("run-1")
		if err != nil {
			return false
		}
		final = info.Status
		return final.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return final
}

func TestHuntWalksAllPages(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := newFakePage(zipPageOne, zipPageTwo)
	st := &memStore{}
	scorer := scorerFunc(func(rec extract.Record) (scoring.Decision, error) {
		if strings.Contains(rec.Title, "COBOL") {
			return scoring.Decision{Score: 5, ShouldSkip: true, Reasoning: "wrong stack"}, nil
		}
		return scoring.Decision{Score: 90, Alignments: []string{"go"}}, nil
	})

	status := runHunt(t, page, testDeps(scorer, st, config.HuntConfig{}), session.StartParams{
		UserID:   "user-1",
		Platform: "ziprecruiter",
		Criteria: map[string]string{"skills": "go"},
	})
	assert.Equal(t, session.StatusCompleted, status)

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.apps, 3)

	byTitle := map[string]store.Application{}
	for _, app := range st.apps {
		byTitle[app.Title] = app
	}
	assert.Equal(t, store.StatusApplied, byTitle["Go Engineer"].Status)
	assert.Equal(t, store.StatusSkipped, byTitle["COBOL Developer"].Status)
	assert.Equal(t, store.StatusApplied, byTitle["Platform Engineer"].Status)
	assert.Equal(t, "https://z.example/job/1", byTitle["Go Engineer"].URL)

	require.Len(t, st.summaries, 1)
	want := store.RunSummary{
		RunID:        "run-1",
		UserID:       "user-1",
		Platform:     "ziprecruiter",
		Outcome:      "completed",
		PagesVisited: 2,
		ItemsSeen:    3,
		ItemsApplied: 2,
		ItemsSkipped: 1,
	}
	diff := cmp.Diff(want, st.summaries[0],
		cmpopts.IgnoreFields(store.RunSummary{}, "StartedAt", "FinishedAt"))
	assert.Empty(t, diff)

	// Applying means the listing page was opened and the results restored.
	page.mu.Lock()
	defer page.mu.Unlock()
	assert.Contains(t, page.navigations, "https://z.example/job/1")
	assert.Contains(t, page.clicks, "button.apply_button")
	assert.Contains(t, page.clicks, "a.next_page")
}

func TestHuntHonorsItemBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := newFakePage(zipPageOne, zipPageTwo)
	st := &memStore{}
	scorer := scorerFunc(func(extract.Record) (scoring.Decision, error) {
		return scoring.Decision{Score: 80}, nil
	})

	status := runHunt(t, page, testDeps(scorer, st, config.HuntConfig{MaxItems: 1}), session.StartParams{
		UserID:   "user-1",
		Platform: "ziprecruiter",
	})
	assert.Equal(t, session.StatusCompleted, status)

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.summaries, 1)
	assert.Equal(t, 1, st.summaries[0].ItemsSeen)
}

func TestHuntRecordsScoringFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := newFakePage(zipPageTwo)
	st := &memStore{}
	scorer := scorerFunc(func(extract.Record) (scoring.Decision, error) {
		return scoring.Decision{}, errors.New("model unavailable")
	})

	status := runHunt(t, page, testDeps(scorer, st, config.HuntConfig{}), session.StartParams{
		UserID:   "user-1",
		Platform: "ziprecruiter",
	})
	assert.Equal(t, session.StatusCompleted, status, "one bad listing must not kill the run")

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.apps, 1)
	assert.Equal(t, store.StatusFailed, st.apps[0].Status)
	require.Len(t, st.summaries, 1)
	assert.Equal(t, 1, st.summaries[0].ItemsFailed)
}

func TestFactoryRejectsUnknownPlatform(t *testing.T) {
	factory := NewFactory(testDeps(nil, nil, config.HuntConfig{}))
	_, err := factory(session.StartParams{Platform: "monster"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform")
}

func TestPlatformNames(t *testing.T) {
	names := PlatformNames()
	assert.Equal(t, []string{"dice", "glassdoor", "indeed", "linkedin", "ziprecruiter"}, names)

	p, err := PlatformFor("  LinkedIn ")
	require.NoError(t, err)
	assert.Equal(t, "linkedin", p.Name)
}
