package filter_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/applypilot/applypilot/internal/engine"
	"github.com/applypilot/applypilot/internal/filter"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/page/pagetest"
	"github.com/applypilot/applypilot/internal/store"
)

const linkURL = "https://justjoin.it/job-offer/senior-go-dev"

type fakeProber struct {
	out   engine.Outcome
	calls int
}

func (p *fakeProber) Resolve(ctx context.Context, pg page.Page) engine.Outcome {
	p.calls++
	return p.out
}

// listingPage shows the given description text and nothing else.
func listingPage(desc string) *pagetest.Page {
	pg := &pagetest.Page{CurrentURL: linkURL}
	pg.CSSFn = func(sel string) page.Locator {
		if strings.Contains(sel, "job-description") {
			return &pagetest.Locator{N: 1, IsVisible: true, TextValue: desc}
		}
		return pagetest.None()
	}
	pg.EvalFn = func(js string, args ...any) (any, error) {
		return true, nil // scrolled to the bottom in one step
	}
	return pg
}

func fastConfig() filter.Config {
	return filter.Config{
		Keywords:      []string{"go", "playwright"},
		ScrollPause:   time.Millisecond,
		LoadTimeout:   time.Millisecond,
		ItemPauseMin:  time.Millisecond,
		ItemPauseMax:  2 * time.Millisecond,
		BatchPauseMin: time.Millisecond,
		BatchPauseMax: 2 * time.Millisecond,
	}
}

var _ = Describe("Filter", func() {
	var (
		links   *store.Store
		records *store.Store
		prober  *fakeProber
		ctx     context.Context
		link    model.JobRecord
	)

	newFilter := func(pg page.Page) *filter.Filter {
		sess := &pagetest.Session{NewPageFn: func() (page.Page, error) { return pg, nil }}
		return filter.New(sess, links, records, prober, nil, fastConfig())
	}

	savedRecord := func() model.JobRecord {
		recs, err := records.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		return recs[0]
	}

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "applypilot-filter")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })
		links = store.New(filepath.Join(dir, "links.jsonl"))
		records = store.New(filepath.Join(dir, "filtered_links.jsonl"))
		prober = &fakeProber{}
		ctx = context.Background()

		link = model.JobRecord{ID: "jj-1", DataIndex: "u1", JobName: "go",
			Location: "remote", URL: linkURL, NewHref: true}
		Expect(links.Append(link)).To(Succeed())
	})

	It("rejects by keyword without probing the affordance", func() {
		f := newFilter(listingPage("A frontend role. React, CSS, plenty of whiteboard interviews. No backend work involved here."))

		Expect(f.ProcessOne(ctx, link)).To(Succeed())

		rec := savedRecord()
		Expect(rec.Processed).To(BeTrue())
		Expect(rec.KeywordExists).To(BeFalse())
		Expect(rec.EasyApply).To(BeFalse())
		Expect(prober.calls).To(BeZero())
	})

	It("records a modal resolution as easy apply", func() {
		prober.out = engine.Outcome{
			Mode: model.ModeModal, ApplyFound: true, EasyApply: true, FinalURL: linkURL,
		}
		f := newFilter(listingPage("We build browser automation in Go and Playwright. You will own the scraper fleet end to end."))

		Expect(f.ProcessOne(ctx, link)).To(Succeed())

		rec := savedRecord()
		Expect(rec.EasyApply).To(BeTrue())
		Expect(rec.Processed).To(BeFalse())
		Expect(rec.KeywordExists).To(BeTrue())
		Expect(rec.MatchedKeywords).To(ConsistOf("go", "playwright"))
		Expect(rec.FinalURL).To(Equal(linkURL))
		Expect(rec.ProcessedAt).NotTo(BeEmpty())
	})

	It("records a popup resolution with the destination URL", func() {
		popup := &pagetest.Page{CurrentURL: "https://ats.example.com/apply/7"}
		prober.out = engine.Outcome{
			Mode: model.ModePopup, ApplyFound: true, EasyApply: false,
			FinalURL: "https://ats.example.com/apply/7", Popup: popup,
		}
		f := newFilter(listingPage("Senior Go engineer wanted. Remote-first, strong platform team, lots of Go services."))

		Expect(f.ProcessOne(ctx, link)).To(Succeed())

		rec := savedRecord()
		Expect(rec.EasyApply).To(BeFalse())
		Expect(rec.Processed).To(BeFalse())
		Expect(rec.FinalURL).To(Equal("https://ats.example.com/apply/7"))
		Expect(popup.IsClosed).To(BeTrue())
	})

	It("marks listings without an affordance outdated and processed", func() {
		prober.out = engine.Outcome{Mode: model.ModeNone, FinalURL: linkURL}
		f := newFilter(listingPage("Go developer. This posting is stale but still talks about Go a lot."))

		Expect(f.ProcessOne(ctx, link)).To(Succeed())

		rec := savedRecord()
		Expect(rec.Outdated).To(BeTrue())
		Expect(rec.Processed).To(BeTrue())
		Expect(rec.EasyApply).To(BeFalse())
	})

	It("consumes the link so reruns skip it", func() {
		f := newFilter(listingPage("Nothing relevant in this description at all, just filler text to pass the length check."))

		Expect(f.ProcessOne(ctx, link)).To(Succeed())

		fresh, err := links.NewLinks(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeEmpty())
	})

	It("drains every new link through Run", func() {
		second := model.JobRecord{ID: "jj-2", URL: linkURL + "-2", NewHref: true}
		Expect(links.Append(second)).To(Succeed())
		prober.out = engine.Outcome{Mode: model.ModeModal, ApplyFound: true, EasyApply: true, FinalURL: linkURL}
		f := newFilter(listingPage("Go and Playwright all day, every day. Browser automation at scale for a remote team."))

		Expect(f.Run(ctx)).To(Succeed())

		recs, err := records.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(2))
		fresh, err := links.NewLinks(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeEmpty())
	})
})
