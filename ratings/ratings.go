// Package ratings loads team strength ratings from a scraped HTML table or
// a tab separated file.
package ratings

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"
)

//go:embed seed.tsv
var seed []byte

var ErrNoRows = errors.New("no rating rows parsed")

type Rating struct {
	Rank   int     `json:"rank"`
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// Seed returns the ratings snapshot shipped with the binary.
func Seed() ([]Rating, error) {
	return ParseTSV(bytes.NewReader(seed))
}

// Fetch loads ratings from url. A .tsv url is downloaded and parsed as
// tab separated rows; anything else is scraped as HTML.
func Fetch(url string) ([]Rating, error) {
	if strings.HasSuffix(strings.ToLower(url), ".tsv") {
		resp, err := http.Get(url)
		if err != nil {
			return nil, fmt.Errorf("ratings GET: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ratings GET %s: %s", url, resp.Status)
		}
		return ParseTSV(resp.Body)
	}
	return Scrape(url)
}

// ParseTSV reads "rank code name rating" rows. A header row and malformed
// rows are skipped.
func ParseTSV(r io.Reader) ([]Rating, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows []Rating
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ratings: %w", err)
		}
		if len(rec) < 4 {
			continue
		}
		if row, ok := parseRow(rec[0], rec[1], rec[2], rec[3]); ok {
			rows = append(rows, row)
		}
	}
	return finish(rows)
}

func parseRow(rank, code, name, rating string) (Rating, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	r, err := strconv.ParseFloat(strings.TrimSpace(rating), 64)
	if err != nil || code == "" {
		return Rating{}, false
	}
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(rank), "."))
	if name == "" {
		name = code
	}
	return Rating{Rank: n, Code: code, Name: name, Rating: r}, true
}

// finish drops duplicate codes, keeping the first, and fills missing ranks
// from rating order.
func finish(rows []Rating) ([]Rating, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	for i := range out {
		if out[i].Rank == 0 {
			out[i].Rank = i + 1
		}
	}
	return out, nil
}

// Scrape walks the rows of a "table.ratings" HTML table. Cells are rank,
// code, name and rating in that order; the code may also come from a
// data-code attribute on the row.
func Scrape(url string) ([]Rating, error) {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) " +
			"Chrome/115.0.0.0 Safari/537.36"),
	)
	c.Async = true

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		logrus.WithField("url", r.URL.String()).Info("Visiting")
	})

	var (
		mu      sync.Mutex
		rows    []Rating
		scrapeE error
	)

	text := func(cells *goquery.Selection, idx int) string {
		if idx >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(idx).Text())
	}

	c.OnHTML("table.ratings tbody > tr", func(e *colly.HTMLElement) {
		tds := e.DOM.ChildrenFiltered("td")
		if tds.Length() < 4 {
			return
		}
		code := e.Attr("data-code")
		if code == "" {
			code = text(tds, 1)
		}
		row, ok := parseRow(text(tds, 0), code, text(tds, 2), text(tds, 3))
		if !ok {
			return
		}
		mu.Lock()
		rows = append(rows, row)
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		scrapeE = fmt.Errorf("scrape %s: %d: %w", r.Request.URL, r.StatusCode, err)
		mu.Unlock()
	})

	if err := c.Visit(url); err != nil {
		return nil, err
	}
	c.Wait()

	if scrapeE != nil {
		return nil, scrapeE
	}
	out, err := finish(rows)
	if err != nil {
		return nil, fmt.Errorf("%w from URL: %s", err, url)
	}
	return out, nil
}

// Index splits rows into the rating and name lookups the simulators take.
func Index(rows []Rating) (map[string]float64, map[string]string) {
	rating := make(map[string]float64, len(rows))
	name := make(map[string]string, len(rows))
	for _, r := range rows {
		rating[r.Code] = r.Rating
		name[r.Code] = r.Name
	}
	return rating, name
}
