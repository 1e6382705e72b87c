package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/huntr-cli/internal/extract"
)

// Platform describes one supported job board: where its listings live in the
// DOM and which control advances the results. All five boards run through the
// same hunt loop; only these descriptors differ.
type Platform struct {
	Name      string
	Selectors extract.Selectors
	// ApplySelector matches the apply control on a listing page.
	ApplySelector string
}

var platforms = map[string]Platform{
	"linkedin": {
		Name: "linkedin",
		Selectors: extract.Selectors{
			Item:     "li.jobs-search-results__list-item",
			Title:    ".job-card-list__title",
			Org:      ".job-card-container__primary-description",
			Location: ".job-card-container__metadata-item",
			Link:     "a.job-card-list__title",
			PostedAt: "time",
			NextPage: "button[aria-label='View next page']",
		},
		ApplySelector: "button.jobs-apply-button",
	},
	"indeed": {
		Name: "indeed",
		Selectors: extract.Selectors{
			Item:     "div.job_seen_beacon",
			Title:    "h2.jobTitle span",
			Org:      "span[data-testid='company-name']",
			Location: "div[data-testid='text-location']",
			Salary:   "div.salary-snippet-container",
			Link:     "h2.jobTitle a",
			PostedAt: "span.date",
			NextPage: "a[data-testid='pagination-page-next']",
		},
		ApplySelector: "button#indeedApplyButton",
	},
	"glassdoor": {
		Name: "glassdoor",
		Selectors: extract.Selectors{
			Item:     "li[data-test='jobListing']",
			Title:    "a[data-test='job-title']",
			Org:      "span.EmployerProfile_compactEmployerName__9MGcV",
			Location: "div[data-test='emp-location']",
			Salary:   "div[data-test='detailSalary']",
			Link:     "a[data-test='job-title']",
			NextPage: "button[data-test='pagination-next']",
		},
		ApplySelector: "button[data-test='applyButton']",
	},
	"dice": {
		Name: "dice",
		Selectors: extract.Selectors{
			Item:     "dhi-search-card",
			Title:    "a[data-cy='card-title-link']",
			Org:      "a[data-cy='search-result-company-name']",
			Location: "span[data-cy='search-result-location']",
			Link:     "a[data-cy='card-title-link']",
			PostedAt: "span[data-cy='card-posted-date']",
			NextPage: "li.pagination-next a",
		},
		ApplySelector: "apply-button-wc",
	},
	"ziprecruiter": {
		Name: "ziprecruiter",
		Selectors: extract.Selectors{
			Item:     "article.job_result",
			Title:    "h2.title",
			Org:      "a.company_name",
			Location: "p.location",
			Salary:   "p.salary",
			Link:     "h2.title a",
			NextPage: "a.next_page",
		},
		ApplySelector: "button.apply_button",
	},
}

// PlatformFor resolves a platform descriptor by name, case-insensitively.
func PlatformFor(name string) (Platform, error) {
	p, ok := platforms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Platform{}, fmt.Errorf("unsupported platform %q (supported: %s)",
			name, strings.Join(PlatformNames(), ", "))
	}
	return p, nil
}

// PlatformNames lists the supported boards, sorted.
func PlatformNames() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
