package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/pipeline"
	"epiviz-pipeline/pkg/utils"
)

// Column maps a record field to a table header.
type Column struct {
	Field  string
	Header string
}

// PageSpec describes one HTML artifact derived from a dataset.
type PageSpec struct {
	Artifact string // output filename, e.g. "timeline.html"
	Dataset  string // logical source name
	Title    string
	Columns  []Column
	SortBy   string // numeric field for descending sort; empty keeps source order
}

// HTMLRenderer is the default generation collaborator: standalone HTML
// pages with an embedded data table per dataset, plus a week-over-week
// comparison page for each source that has a prior period.
type HTMLRenderer struct {
	Pages []PageSpec
}

// NewHTMLRenderer builds a renderer for the given pages, falling back
// to the standard dashboard page set.
func NewHTMLRenderer(pages ...PageSpec) *HTMLRenderer {
	if len(pages) == 0 {
		pages = DefaultPages()
	}
	return &HTMLRenderer{Pages: pages}
}

// DefaultPages is the fixed artifact set of the public dashboard.
func DefaultPages() []PageSpec {
	return []PageSpec{
		{
			Artifact: "timeline.html",
			Dataset:  "timeline",
			Title:    "Historical Measles Cases in the United States",
			Columns:  []Column{{"year", "Year"}, {"cases", "Cases"}},
		},
		{
			Artifact: "us_measles.html",
			Dataset:  "measles",
			Title:    "Measles Cases by State",
			Columns:  []Column{{"state", "State"}, {"cases", "Cases"}},
			SortBy:   "cases",
		},
		{
			Artifact: "us_map.html",
			Dataset:  "measles",
			Title:    "Geographic Distribution of Measles Cases",
			Columns:  []Column{{"state", "State"}, {"cases", "Cases"}, {"year", "Year"}},
			SortBy:   "cases",
		},
		{
			Artifact: "mmr_coverage.html",
			Dataset:  "vaccination",
			Title:    "MMR Vaccination Coverage by State",
			Columns:  []Column{{"state", "State"}, {"coverage", "Coverage (%)"}},
			SortBy:   "coverage",
		},
		{
			Artifact: "exemptions.html",
			Dataset:  "vaccination",
			Title:    "Vaccine Exemption Rates by State",
			Columns:  []Column{{"state", "State"}, {"exemption", "Exemption Rate (%)"}},
			SortBy:   "exemption",
		},
	}
}

// Generate renders every page whose dataset resolved. Unavailable
// datasets are gaps: their pages are omitted from the candidate without
// raising a generation error. Per-page failures are collected and never
// short-circuit sibling pages.
func (r *HTMLRenderer) Generate(ctx context.Context, rc *pipeline.ResolvedContext) (*model.OutputBundle, []model.GenerationError) {
	bundle := model.NewOutputBundle(rc.RunID)
	var genErrs []model.GenerationError

	for _, page := range r.Pages {
		select {
		case <-ctx.Done():
			genErrs = append(genErrs, model.GenerationError{Artifact: page.Artifact, Message: ctx.Err().Error()})
			continue
		default:
		}

		res, ok := rc.Dataset(page.Dataset)
		if !ok || res.Tier == model.TierUnavailable {
			fmt.Printf("⏭ Skipping %s: dataset %s unavailable this run\n", page.Artifact, page.Dataset)
			continue
		}

		content, err := renderTablePage(page, res.Records)
		if err != nil {
			genErrs = append(genErrs, model.GenerationError{Artifact: page.Artifact, Message: err.Error()})
			continue
		}
		bundle.Artifacts[page.Artifact] = content
	}

	for _, name := range sortedDeltaNames(rc.Deltas) {
		artifact := fmt.Sprintf("weekly_%s.html", name)
		content, err := renderWeeklyPage(name, rc.Deltas[name])
		if err != nil {
			genErrs = append(genErrs, model.GenerationError{Artifact: artifact, Message: err.Error()})
			continue
		}
		bundle.Artifacts[artifact] = content
	}

	return bundle, genErrs
}

func sortedDeltaNames(deltas map[string]model.Delta) []string {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { margin: 0; padding: 16px; font-family: Arial, sans-serif; }
h1 { font-size: 20px; text-align: center; }
table { border-collapse: collapse; margin: 0 auto; min-width: 60%; }
th, td { border: 1px solid #ddd; padding: 6px 12px; text-align: left; }
th { background: #f4f4f4; }
.footer { margin-top: 24px; text-align: center; color: #999; font-size: 0.8em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
<div class="footer">Last updated: {{.Updated}}</div>
</body>
</html>
`))

type pageData struct {
	Title   string
	Headers []string
	Rows    [][]string
	Updated string
}

func renderTablePage(page PageSpec, records []model.GenericRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s has no records", page.Dataset)
	}

	rows := make([]model.GenericRecord, len(records))
	copy(rows, records)
	if page.SortBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			return utils.Numeric(rows[i][page.SortBy]) > utils.Numeric(rows[j][page.SortBy])
		})
	}

	data := pageData{
		Title:   page.Title,
		Updated: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}
	for _, col := range page.Columns {
		data.Headers = append(data.Headers, col.Header)
	}
	for _, rec := range rows {
		var cells []string
		for _, col := range page.Columns {
			cells = append(cells, fmt.Sprintf("%v", rec[col.Field]))
		}
		data.Rows = append(data.Rows, cells)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", page.Artifact, err)
	}
	return buf.Bytes(), nil
}

func renderWeeklyPage(source string, delta model.Delta) ([]byte, error) {
	dims := make([]string, 0, len(delta.Dimensions))
	for name := range delta.Dimensions {
		dims = append(dims, name)
	}
	sort.Slice(dims, func(i, j int) bool {
		return delta.Dimensions[dims[i]].Current > delta.Dimensions[dims[j]].Current
	})

	data := pageData{
		Title:   fmt.Sprintf("Weekly Comparison: %s (%s vs %s)", source, delta.PeriodKey, delta.PreviousKey),
		Headers: []string{"Region", "This Week", "Last Week", "Change"},
		Updated: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}
	for _, name := range dims {
		d := delta.Dimensions[name]
		data.Rows = append(data.Rows, []string{
			name,
			fmt.Sprintf("%.0f", d.Current),
			fmt.Sprintf("%.0f", d.Previous),
			FormatChange(d),
		})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render weekly page for %s: %w", source, err)
	}
	return buf.Bytes(), nil
}

// FormatChange renders a period-over-period delta as the dashboard's
// arrow notation. A zero previous value reads "New", never a division.
func FormatChange(d model.DimensionDelta) string {
	switch {
	case d.Previous == 0 && d.Current == 0:
		return "→ No change"
	case !d.RelativeDefined && d.Current > 0:
		return fmt.Sprintf("↑ New (%.0f)", d.Current)
	case d.Absolute > 0:
		return fmt.Sprintf("↑ +%.1f%%", d.Relative*100)
	case d.Absolute < 0:
		return fmt.Sprintf("↓ %.1f%%", d.Relative*100)
	default:
		return "→ No change"
	}
}
