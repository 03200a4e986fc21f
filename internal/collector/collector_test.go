package collector

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/applypilot/applypilot/common/id"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/page/pagetest"
	"github.com/applypilot/applypilot/internal/store"
)

func init() {
	if err := id.Init(7); err != nil {
		panic(err)
	}
}

func TestBuildSearchURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		job      string
		location string
		want     string
	}{
		{"plain", "https://justjoin.it/", "QA Automation", "remote",
			"https://justjoin.it/job-offers/remote?keyword=QA+Automation"},
		{"slashes trimmed", "https://justjoin.it", "go", "/poland-remote/",
			"https://justjoin.it/job-offers/poland-remote?keyword=go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildSearchURL(tt.base, tt.job, tt.location); got != tt.want {
				t.Errorf("BuildSearchURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// resultsPage fakes a search page whose card list holds the given
// hrefs and reports being scrolled to the bottom.
func resultsPage(url string, hrefs []string) *pagetest.Page {
	pg := &pagetest.Page{CurrentURL: url}
	pg.CSSFn = func(sel string) page.Locator {
		if sel != anchorSelector {
			return pagetest.None()
		}
		return &pagetest.Locator{
			N:         len(hrefs),
			IsVisible: len(hrefs) > 0,
			NthFn: func(i int) page.Locator {
				return &pagetest.Locator{N: 1, IsVisible: true,
					Attrs: map[string]string{"href": hrefs[i]}}
			},
		}
	}
	pg.EvalFn = func(js string, args ...any) (any, error) {
		if strings.Contains(js, "clientHeight") {
			return true, nil // already at the bottom
		}
		return false, nil
	}
	return pg
}

func fastConfig() Config {
	return Config{
		BaseURL:        "https://justjoin.it/",
		JobNames:       []string{"go"},
		Locations:      []string{"remote"},
		MaxLoopTime:    time.Second,
		AnchorWait:     50 * time.Millisecond,
		ScrollPauseMin: time.Millisecond,
		ScrollPauseMax: 2 * time.Millisecond,
		LoadTimeout:    time.Millisecond,
	}
}

func TestCollectAppendsOnlyUnseenLinks(t *testing.T) {
	links := store.New(filepath.Join(t.TempDir(), "links.jsonl"))
	// one link already known from a previous run
	existing := "https://justjoin.it/job-offer/old-go-job"
	if _, err := links.Upsert(store.Match{URL: existing}, map[string]any{
		"id": "jj-old", "url": existing,
	}); err != nil {
		t.Fatal(err)
	}

	pg := resultsPage("https://justjoin.it/job-offers/remote?keyword=go", []string{
		"/job-offer/old-go-job",
		"/job-offer/new-go-job",
		"https://justjoin.it/job-offer/another-go-job",
		"/job-offer/new-go-job", // rendered twice in the list
	})
	sess := &pagetest.Session{NewPageFn: func() (page.Page, error) { return pg, nil }}

	res, err := New(sess, links, fastConfig()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 || res.LimitHit {
		t.Fatalf("unexpected result: %+v", res)
	}

	recs, err := links.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(recs))
	}
	added := recs[1:]
	if added[0].URL != "https://justjoin.it/job-offer/new-go-job" || !added[0].NewHref {
		t.Errorf("unexpected first new record: %+v", added[0])
	}
	if added[0].DataIndex != "u1" || added[1].DataIndex != "u2" {
		t.Errorf("ordinals wrong: %q %q", added[0].DataIndex, added[1].DataIndex)
	}
	if added[0].ID == "" || added[0].ID == added[1].ID {
		t.Errorf("ids must be unique and non-empty: %q %q", added[0].ID, added[1].ID)
	}
	if added[0].JobName != "go" || added[0].Location != "remote" {
		t.Errorf("search context not recorded: %+v", added[0])
	}
}

func TestCollectReportsLimitHit(t *testing.T) {
	links := store.New(filepath.Join(t.TempDir(), "links.jsonl"))
	pg := resultsPage("https://justjoin.it/job-offers/remote?keyword=go", []string{
		"/job-offer/a", "/job-offer/b", "/job-offer/c",
	})
	sess := &pagetest.Session{NewPageFn: func() (page.Page, error) { return pg, nil }}
	cfg := fastConfig()
	cfg.Limit = 1

	res, err := New(sess, links, cfg).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.LimitHit {
		t.Error("expected limit hit")
	}
	if res.Added != 2 {
		t.Errorf("collection should stop just past the limit, added %d", res.Added)
	}
}

func TestCollectNoAnchors(t *testing.T) {
	links := store.New(filepath.Join(t.TempDir(), "links.jsonl"))
	pg := resultsPage("https://justjoin.it/job-offers/remote?keyword=go", nil)
	sess := &pagetest.Session{NewPageFn: func() (page.Page, error) { return pg, nil }}

	res, err := New(sess, links, fastConfig()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 {
		t.Errorf("expected nothing collected, got %+v", res)
	}
}
