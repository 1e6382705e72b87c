package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/config"
	"github.com/xkilldash9x/huntr-cli/internal/extract"
	"github.com/xkilldash9x/huntr-cli/internal/scoring"
	"github.com/xkilldash9x/huntr-cli/internal/session"
	"github.com/xkilldash9x/huntr-cli/internal/store"
)

const (
	defaultMaxPages = 5
	defaultMaxItems = 50
)

// Page is the browser surface the hunt loop drives, beyond the probes the
// lifecycle layer needs. browser.Tab satisfies it.
type Page interface {
	session.Resource
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ScrollBy(ctx context.Context, dx, dy int) error
	HTML(ctx context.Context) (string, error)
}

// RecordStore persists listing outcomes and run summaries.
type RecordStore interface {
	UpsertApplication(ctx context.Context, app store.Application) error
	UpsertRunSummary(ctx context.Context, sum store.RunSummary) error
}

// Deps carries the hunt loop's collaborators. Store may be nil, in which case
// outcomes are only published to the activity feed.
type Deps struct {
	Logger    *zap.Logger
	Extractor *extract.DOMExtractor
	Scorer    scoring.Engine
	Store     RecordStore
	Hunt      config.HuntConfig
}

// NewFactory builds hunt tasks for the session registry. Unknown platforms
// are rejected here, before a browser is ever launched for them.
func NewFactory(deps Deps) session.TaskFactory {
	return func(params session.StartParams) (session.Task, error) {
		platform, err := PlatformFor(params.Platform)
		if err != nil {
			return nil, err
		}
		return &huntTask{
			deps:     deps,
			params:   params,
			platform: platform,
			logger:   deps.Logger.Named("hunt"),
		}, nil
	}
}

// huntTask walks a board's result pages: extract listings, score each against
// the run's criteria, apply or skip, and record the outcome. Every browser
// touch goes through the session gate; everything else checks Running between
// steps so a stop lands within one item.
type huntTask struct {
	deps     Deps
	params   session.StartParams
	platform Platform
	logger   *zap.Logger
}

func (t *huntTask) Run(ctx context.Context, s *session.Session) error {
	log := t.logger.With(
		zap.String("run_id", s.ID()),
		zap.String("platform", t.platform.Name))
	pub := s.Activity()

	page, ok := s.Resource().(Page)
	if !ok {
		return fmt.Errorf("session resource does not support page operations")
	}

	maxPages := t.deps.Hunt.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	maxItems := t.deps.Hunt.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	sum := store.RunSummary{
		RunID:     s.ID(),
		UserID:    t.params.UserID,
		Platform:  t.platform.Name,
		StartedAt: time.Now().UTC(),
	}
	defer t.writeSummary(log, s, &sum)

	seen := make(map[string]struct{})

pages:
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if !s.Running() {
			break
		}

		// Nudge lazy-loaded cards into the DOM before reading the page.
		_ = s.Do(ctx, "scroll_results", func(ctx context.Context) error {
			return page.ScrollBy(ctx, 0, 1200)
		}, session.Suppress())

		var html, resultsURL string
		err := s.Do(ctx, "read_results", func(ctx context.Context) error {
			var err error
			if resultsURL, err = page.URL(ctx); err != nil {
				return err
			}
			html, err = page.HTML(ctx)
			return err
		})
		if err != nil {
			return err
		}
		sum.PagesVisited++

		records, err := t.deps.Extractor.Records(html, t.platform.Selectors, resultsURL)
		if err != nil {
			return err
		}
		pub.Thought(fmt.Sprintf("Found %d listings on page %d.", len(records), pageNum))
		log.Info("Results page extracted",
			zap.Int("page", pageNum),
			zap.Int("listings", len(records)))

		for _, rec := range records {
			if !s.Running() || sum.ItemsSeen >= maxItems {
				break pages
			}
			if _, dup := seen[rec.Key()]; dup {
				continue
			}
			seen[rec.Key()] = struct{}{}
			sum.ItemsSeen++

			if err := t.processListing(ctx, s, page, rec, resultsURL, &sum); err != nil {
				return err
			}
		}

		if !t.deps.Extractor.HasNextPage(html, t.platform.Selectors) {
			pub.Thought("No further result pages.")
			break
		}
		err = s.Do(ctx, "next_page", func(ctx context.Context) error {
			pub.Action(fmt.Sprintf("Moving to result page %d.", pageNum+1))
			return page.Click(ctx, t.platform.Selectors.NextPage)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// processListing handles one extracted listing end to end. Only liveness
// refusals propagate; a failure on a single listing is recorded and the hunt
// moves on.
func (t *huntTask) processListing(ctx context.Context, s *session.Session, page Page, rec extract.Record, resultsURL string, sum *store.RunSummary) error {
	pub := s.Activity()
	pub.StartThread(fmt.Sprintf("%s - %s", rec.Org, rec.Title), "Started")
	defer pub.EndThread()

	decision, err := t.deps.Scorer.Score(ctx, rec, t.params.Criteria)
	if err != nil {
		t.logger.Warn("Scoring failed for listing",
			zap.String("org", rec.Org),
			zap.String("title", rec.Title),
			zap.Error(err))
		pub.SetThreadStatus("Failed")
		pub.Result("Could not score this listing.")
		sum.ItemsFailed++
		t.recordOutcome(ctx, s, rec, scoring.Decision{}, store.StatusFailed)
		return nil
	}

	pub.Thought(fmt.Sprintf("Criteria fit %.0f/100.", decision.Score))
	if decision.Reasoning != "" {
		pub.Thought(decision.Reasoning)
	}

	if decision.ShouldSkip {
		pub.SetThreadStatus("Skipped")
		pub.Result("Skipped: does not meet the criteria.")
		sum.ItemsSkipped++
		t.recordOutcome(ctx, s, rec, decision, store.StatusSkipped)
		return nil
	}

	pub.SetThreadStatus("Queued")

	if rec.URL != "" {
		err := s.Do(ctx, "open_listing", func(ctx context.Context) error {
			pub.Action("Opening the listing page.")
			return page.Navigate(ctx, rec.URL)
		})
		if liveness(err) {
			return err
		}
		if err != nil {
			t.logger.Warn("Could not open listing", zap.String("url", rec.URL), zap.Error(err))
			pub.SetThreadStatus("Failed")
			pub.Result("Could not open the listing page.")
			sum.ItemsFailed++
			t.recordOutcome(ctx, s, rec, decision, store.StatusFailed)
			return nil
		}

		// Best effort: not every listing exposes the one-click control.
		err = s.Do(ctx, "submit_application", func(ctx context.Context) error {
			pub.Action("Submitting the application.")
			return page.Click(ctx, t.platform.ApplySelector)
		}, session.Suppress())
		if liveness(err) {
			return err
		}

		err = s.Do(ctx, "return_to_results", func(ctx context.Context) error {
			return page.Navigate(ctx, resultsURL)
		})
		if liveness(err) {
			return err
		}
		if err != nil {
			return err
		}
	}

	pub.SetThreadStatus("Applied")
	pub.Result(fmt.Sprintf("Applied to %s at %s.", rec.Title, rec.Org))
	sum.ItemsApplied++
	t.recordOutcome(ctx, s, rec, decision, store.StatusApplied)
	return nil
}

// liveness reports whether the error is a gate refusal that must end the run.
func liveness(err error) bool {
	return errors.Is(err, session.ErrActionUnavailable) ||
		errors.Is(err, session.ErrManualClosure) ||
		errors.Is(err, session.ErrChallengeDetected)
}

func (t *huntTask) recordOutcome(ctx context.Context, s *session.Session, rec extract.Record, decision scoring.Decision, status store.ApplicationStatus) {
	if t.deps.Store == nil {
		return
	}
	app := store.Application{
		UserID:      t.params.UserID,
		Platform:    t.platform.Name,
		Org:         rec.Org,
		Title:       rec.Title,
		Location:    rec.Location,
		URL:         rec.URL,
		SalaryRange: rec.SalaryRange,
		Score:       decision.Score,
		Alignments:  decision.Alignments,
		Status:      status,
		Reasoning:   decision.Reasoning,
	}
	if err := t.deps.Store.UpsertApplication(ctx, app); err != nil {
		t.logger.Warn("Failed to record application",
			zap.String("run_id", s.ID()),
			zap.String("org", rec.Org),
			zap.String("title", rec.Title),
			zap.Error(err))
	}
}

// writeSummary persists the run aggregate on the way out, whatever ended the
// run. Uses its own context; the task's context may already be cancelled.
func (t *huntTask) writeSummary(log *zap.Logger, s *session.Session, sum *store.RunSummary) {
	sum.FinishedAt = time.Now().UTC()
	if s.Running() {
		sum.Outcome = "completed"
	} else {
		sum.Outcome = "stopped"
	}
	s.Activity().Result(fmt.Sprintf(
		"Run finished: %d seen, %d applied, %d skipped, %d failed across %d pages.",
		sum.ItemsSeen, sum.ItemsApplied, sum.ItemsSkipped, sum.ItemsFailed, sum.PagesVisited))

	if t.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.deps.Store.UpsertRunSummary(ctx, *sum); err != nil {
		log.Warn("Failed to record run summary", zap.Error(err))
	}
}
