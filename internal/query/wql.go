package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cortex/internal/sitemap"
)

// wqlRow is one result row: every scanned field, by name, as a plain value
// (string, float64, or int). Project trims this down to the selected list.
type wqlRow map[string]any

// planStepKind enumerates the compiled steps a WQL query lowers to, mirroring
// the scan/filter/sort/limit/project shape of a step-based query plan, minus
// joins and temporal enrichment: this interpreter is scoped to a single
// PageType within a single domain, so there is nothing to join against.
type planStepKind int

const (
	stepFilter planStepKind = iota
	stepSort
	stepLimit
	stepProject
)

type planStep struct {
	kind    planStepKind
	field   string
	op      string
	value   string
	asc     bool
	limit   int
	fields  []string
}

// queryPlan is the compiled, ordered list of steps a WqlQuery lowers to.
type queryPlan struct {
	pageType sitemap.PageType
	any      bool // no FROM <PageType> restriction ("FROM *")
	steps    []planStep
}

// fieldNames are the row fields a scan exposes, grounded on the SiteMap
// Node record plus its feature-dimension constants.
var fieldNames = map[string]bool{
	"url": true, "page_type": true, "confidence": true, "freshness": true,
	"depth": true, "inbound_count": true, "outbound_count": true,
	"http_status": true, "index": true,
	"price": true, "original_price": true, "discount": true,
	"availability": true, "rating": true, "review_count": true,
}

// ParseWQL compiles a query string of the form:
//   SELECT <fields> FROM <PageType> [WHERE <expr>] [ORDER BY <field> [ASC|DESC]] [LIMIT n]
// fields is a comma-separated list or "*"; expr is a chain of
// `field op value` comparisons joined by AND or OR. Every comparison becomes
// one step of a single filter list and all of them must hold, so OR has the
// same effect as AND.
func ParseWQL(query string) (*queryPlan, error) {
	toks := tokenizeWQL(query)
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty query")
	}
	p := &wqlParser{toks: toks}
	return p.parse()
}

type wqlParser struct {
	toks []string
	pos  int
}

func (p *wqlParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *wqlParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *wqlParser) expectKeyword(kw string) error {
	t := p.next()
	if !strings.EqualFold(t, kw) {
		return fmt.Errorf("expected %s, got %q", kw, t)
	}
	return nil
}

func (p *wqlParser) parse() (*queryPlan, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	var selectFields []string
	for {
		f := p.next()
		if f == "" {
			return nil, fmt.Errorf("unexpected end of query after SELECT")
		}
		selectFields = append(selectFields, strings.TrimSuffix(f, ","))
		if !strings.HasSuffix(f, ",") {
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	fromTok := p.next()
	plan := &queryPlan{}
	if fromTok == "*" {
		plan.any = true
	} else {
		pt, ok := pageTypeByName(fromTok)
		if !ok {
			return nil, fmt.Errorf("unknown page type %q", fromTok)
		}
		plan.pageType = pt
	}

	for p.peek() != "" {
		switch strings.ToUpper(p.peek()) {
		case "WHERE":
			p.next()
			if err := p.parseWhere(plan); err != nil {
				return nil, err
			}
		case "ORDER":
			p.next()
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			field := p.next()
			asc := true
			if strings.EqualFold(p.peek(), "DESC") {
				asc = false
				p.next()
			} else if strings.EqualFold(p.peek(), "ASC") {
				p.next()
			}
			if !fieldNames[field] {
				return nil, fmt.Errorf("unknown field %q in ORDER BY", field)
			}
			plan.steps = append(plan.steps, planStep{kind: stepSort, field: field, asc: asc})
		case "LIMIT":
			p.next()
			n, err := strconv.Atoi(p.next())
			if err != nil {
				return nil, fmt.Errorf("invalid LIMIT: %w", err)
			}
			plan.steps = append(plan.steps, planStep{kind: stepLimit, limit: n})
		default:
			return nil, fmt.Errorf("unexpected token %q", p.peek())
		}
	}

	if len(selectFields) != 1 || selectFields[0] != "*" {
		plan.steps = append(plan.steps, planStep{kind: stepProject, fields: selectFields})
	}

	return plan, nil
}

func (p *wqlParser) parseWhere(plan *queryPlan) error {
	for {
		field := p.next()
		op := p.next()
		value := p.next()
		if field == "" || op == "" || value == "" {
			return fmt.Errorf("malformed WHERE clause near %q", field)
		}
		if !fieldNames[field] {
			return fmt.Errorf("unknown field %q in WHERE", field)
		}
		if !isComparisonOp(op) {
			return fmt.Errorf("unsupported operator %q", op)
		}
		plan.steps = append(plan.steps, planStep{kind: stepFilter, field: field, op: op, value: value})

		switch strings.ToUpper(p.peek()) {
		case "AND", "OR":
			p.next()
			continue
		default:
			return nil
		}
	}
}

func isComparisonOp(op string) bool {
	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func tokenizeWQL(query string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range query {
		switch {
		case r == ',':
			cur.WriteRune(',')
			flush()
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func pageTypeByName(name string) (sitemap.PageType, bool) {
	names := map[string]sitemap.PageType{
		"Home": sitemap.PageHome, "ProductListing": sitemap.PageProductListing,
		"ProductDetail": sitemap.PageProductDetail, "Article": sitemap.PageArticle,
		"SearchResults": sitemap.PageSearchResults, "Login": sitemap.PageLogin,
		"Cart": sitemap.PageCart, "Checkout": sitemap.PageCheckout,
		"Account": sitemap.PageAccount, "Documentation": sitemap.PageDocumentation,
		"FormPage": sitemap.PageFormPage, "AboutPage": sitemap.PageAboutPage,
		"ContactPage": sitemap.PageContactPage, "Faq": sitemap.PageFaq,
		"PricingPage": sitemap.PagePricingPage, "Unknown": sitemap.PageUnknown,
	}
	pt, ok := names[name]
	return pt, ok
}

func rowFields(m *sitemap.SiteMap, idx int) wqlRow {
	n := m.Nodes[idx]
	return wqlRow{
		"url": m.URLs[idx], "page_type": n.PageType, "confidence": int(n.Confidence),
		"freshness": int(n.Freshness), "depth": int(n.Depth),
		"inbound_count": int(n.InboundCount), "outbound_count": int(n.OutboundCount),
		"http_status": int(n.HTTPStatus), "index": idx,
		"price": float64(m.Features[idx][sitemap.DimPrice]),
		"original_price": float64(m.Features[idx][sitemap.DimOriginalPrice]),
		"discount": float64(m.Features[idx][sitemap.DimDiscount]),
		"availability": float64(m.Features[idx][sitemap.DimAvailability]),
		"rating": float64(m.Features[idx][sitemap.DimRating]),
		"review_count": float64(m.Features[idx][sitemap.DimReviewCount]),
	}
}

// Run executes the compiled plan against domain's loaded map.
func (e *Engine) Run(plan *queryPlan, domain string) ([]wqlRow, error) {
	m, ok := e.maps[domain]
	if !ok {
		return nil, fmt.Errorf("domain %q not loaded", domain)
	}
	return runPlan(plan, m)
}

func runPlan(plan *queryPlan, m *sitemap.SiteMap) ([]wqlRow, error) {
	var rows []wqlRow
	for i, n := range m.Nodes {
		if !plan.any && n.PageType != plan.pageType {
			continue
		}
		rows = append(rows, rowFields(m, i))
	}

	for _, step := range plan.steps {
		var err error
		switch step.kind {
		case stepFilter:
			rows, err = applyFilter(rows, step)
		case stepSort:
			applySort(rows, step)
		case stepLimit:
			if step.limit >= 0 && len(rows) > step.limit {
				rows = rows[:step.limit]
			}
		case stepProject:
			rows = applyProject(rows, step.fields)
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func applyFilter(rows []wqlRow, step planStep) ([]wqlRow, error) {
	out := rows[:0]
	for _, r := range rows {
		ok, err := evalComparison(r[step.field], step.op, step.value)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func evalComparison(actual any, op, rawValue string) (bool, error) {
	if s, isStr := actual.(string); isStr {
		other := strings.Trim(rawValue, "'\"")
		switch op {
		case "=":
			return s == other, nil
		case "!=":
			return s != other, nil
		default:
			return strings.Compare(s, other) != 0 && compareOrdered(s, other, op), nil
		}
	}

	var a float64
	switch v := actual.(type) {
	case int:
		a = float64(v)
	case float64:
		a = v
	case sitemap.PageType:
		a = float64(v)
	default:
		return false, fmt.Errorf("unsupported field type for comparison")
	}

	want, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		if pt, ok := pageTypeByName(rawValue); ok {
			want = float64(pt)
		} else {
			return false, fmt.Errorf("invalid comparison value %q", rawValue)
		}
	}

	switch op {
	case "=":
		return a == want, nil
	case "!=":
		return a != want, nil
	case "<":
		return a < want, nil
	case "<=":
		return a <= want, nil
	case ">":
		return a > want, nil
	case ">=":
		return a >= want, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func compareOrdered(a, b, op string) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func applySort(rows []wqlRow, step planStep) {
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i][step.field], rows[j][step.field])
		if step.asc {
			return less
		}
		return lessValue(rows[j][step.field], rows[i][step.field])
	})
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case sitemap.PageType:
		if bv, ok := b.(sitemap.PageType); ok {
			return av < bv
		}
	}
	return false
}

func applyProject(rows []wqlRow, fields []string) []wqlRow {
	out := make([]wqlRow, len(rows))
	for i, r := range rows {
		proj := make(wqlRow, len(fields))
		for _, f := range fields {
			proj[f] = r[f]
		}
		out[i] = proj
	}
	return out
}
