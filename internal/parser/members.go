// Package parser extracts domain records from rendered MediaWiki HTML:
// the legislature members table and the lead paragraph / infobox of a
// person page. Every extracted record carries evidence refs whose snippet
// locations are computed from the record's own matched cells.
package parser

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/ident"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/seeds"
)

const wikipediaArticleBase = "https://de.wikipedia.org/wiki/"

// PageSource is one retrieved page: its identity in the source system plus
// the rendered HTML. The fetch metadata rides along so evidence records and
// provenance can be minted without another cache read.
type PageSource struct {
	PageTitle   string
	PageID      int64
	RevisionID  int64
	SourceURL   string
	RetrievedAt string
	SHA256      string
	HTML        string
}

// columnSet maps the semantic columns of a members table to cell indices.
// -1 means the column is absent.
type columnSet struct {
	name      int
	party     int
	wahlkreis int
	notes     int
	start     int
	end       int
}

func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var defaultSectionKeywords = []string{
	"mitglieder", "abgeordnete", "fraktionen", "fraktion",
	"partei", "wahlkreis", "anmerkungen",
}

// findMembersTable locates the members table and its index among the page's
// wikitables. First pass: a table whose header row names a Name column plus
// a party, fraktion or wahlkreis column. Fallback: the first table following
// a section heading matching the seed's section keywords. The returned index
// addresses the table in evidence.WikiTables order, which is the ordering
// snippet resolution uses.
func findMembersTable(root *html.Node, hints seeds.Hints) (*html.Node, int, error) {
	tables := evidence.WikiTables(root)

	for i, table := range tables {
		header := firstElement(table, atom.Tr)
		if header == nil {
			continue
		}
		var hasName, hasParty, hasWahlkreis bool
		for _, cell := range elements(header, atom.Th, atom.Td) {
			text := normalizeHeader(nodeText(cell))
			if strings.Contains(text, "name") {
				hasName = true
			}
			if strings.Contains(text, "partei") || strings.Contains(text, "fraktion") {
				hasParty = true
			}
			if strings.Contains(text, "wahlkreis") {
				hasWahlkreis = true
			}
		}
		if hasName && (hasParty || hasWahlkreis) {
			return table, i, nil
		}
	}

	keywords := append([]string{}, defaultSectionKeywords...)
	keywords = append(keywords, hints.SectionKeywords...)
	for _, heading := range elements(root, atom.H2, atom.H3, atom.H4) {
		text := normalizeHeader(nodeText(heading))
		for _, kw := range keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				continue
			}
			table := nextSiblingTable(heading)
			if table == nil {
				continue
			}
			for i, t := range tables {
				if t == table {
					return table, i, nil
				}
			}
		}
	}

	return nil, 0, eris.New("parser: no members table found")
}

// extractColumns maps header cells to semantic columns by German column
// names. First match wins per cell.
func extractColumns(table *html.Node) columnSet {
	cols := columnSet{name: -1, party: -1, wahlkreis: -1, notes: -1, start: -1, end: -1}
	header := firstElement(table, atom.Tr)
	if header == nil {
		return cols
	}
	for i, cell := range elements(header, atom.Th, atom.Td) {
		text := normalizeHeader(nodeText(cell))
		switch {
		case strings.Contains(text, "name") || strings.Contains(text, "abgeordnete"):
			cols.name = i
		case strings.Contains(text, "partei") || strings.Contains(text, "fraktion"):
			cols.party = i
		case strings.Contains(text, "wahlkreis"):
			cols.wahlkreis = i
		case strings.Contains(text, "anmerkung") || strings.Contains(text, "bemerkung") || strings.Contains(text, "notiz"):
			cols.notes = i
		case strings.Contains(text, "von") || strings.Contains(text, "start") || strings.Contains(text, "beginn"):
			cols.start = i
		case strings.Contains(text, "bis") || strings.Contains(text, "ende"):
			cols.end = i
		}
	}
	return cols
}

var mandateEventTypes = []string{
	"nachgerückt",
	"ausgeschieden",
	"fraktionsaustritt",
	"parteiwechsel",
	"fraktionswechsel",
}

// eventsFromNotes scans a notes cell for known mandate change markers. The
// event date, when the cell names one, is extracted alongside.
func eventsFromNotes(notes, evidenceID string) []model.Event {
	lower := strings.ToLower(notes)
	date := ParseDateText(notes)
	var events []model.Event
	for _, typ := range mandateEventTypes {
		if strings.Contains(lower, typ) {
			events = append(events, model.Event{
				EventType:   typ,
				Description: strings.TrimSpace(notes),
				Date:        date,
				EvidenceIDs: []string{evidenceID},
			})
		}
	}
	return events
}

// ParseMembersPage extracts every member row from a legislature members
// page. It returns the parsed page plus all evidence records it minted: the
// page-level parse evidence first, then one table_row evidence per member.
// The caller persists the evidence; the refs on the returned records point
// at it by ID.
func ParseMembersPage(src PageSource, seed seeds.Seed) (*model.MembersPage, []evidence.Evidence, error) {
	root, err := html.Parse(strings.NewReader(src.HTML))
	if err != nil {
		return nil, nil, eris.Wrap(err, "parser: parse html")
	}

	table, tableIndex, err := findMembersTable(root, seed.Hints)
	if err != nil {
		return nil, nil, err
	}
	cols := extractColumns(table)
	if cols.name < 0 {
		return nil, nil, eris.New("parser: members table has no name column")
	}

	pageEv, err := evidence.New(evidence.SourceMediaWiki, evidence.EndpointParse,
		src.PageTitle, src.PageID, src.RevisionID,
		src.SourceURL, src.RetrievedAt, src.SHA256, nil)
	if err != nil {
		return nil, nil, err
	}

	legislatureID := ""
	if h := seed.Hints; h.Parliament != "" && h.State != "" && h.LegislatureNumber > 0 {
		legislatureID, err = ident.LegislatureID(h.Parliament, h.State, strconv.Itoa(h.LegislatureNumber))
		if err != nil {
			return nil, nil, err
		}
	}

	page := &model.MembersPage{
		SeedKey:    seed.Key,
		PageTitle:  src.PageTitle,
		PageID:     src.PageID,
		RevisionID: src.RevisionID,
		EvidenceID: pageEv.ID,
	}
	evs := []evidence.Evidence{pageEv}

	rows := elements(table, atom.Tr)
	if len(rows) > 1 {
		rows = rows[1:]
	} else {
		rows = nil
	}
	for rowIndex, row := range rows {
		member, rowEv, err := extractMember(row, rowIndex, cols, tableIndex, src, seed, legislatureID, pageEv)
		if err != nil {
			return nil, nil, err
		}
		if member == nil {
			continue
		}
		page.Members = append(page.Members, *member)
		evs = append(evs, rowEv)
	}

	return page, evs, nil
}

// extractMember builds the person and mandate for one data row. Rows whose
// name cell carries no article link are skipped (section dividers, vacant
// seats); their row index still counts, so refs of later rows stay stable.
// The row's SnippetRef is bound to the identity matched in this row's own
// name cell.
func extractMember(row *html.Node, rowIndex int, cols columnSet, tableIndex int,
	src PageSource, seed seeds.Seed, legislatureID string, pageEv evidence.Evidence) (*model.Member, evidence.Evidence, error) {

	cells := elements(row, atom.Td, atom.Th)
	if cols.name >= len(cells) {
		return nil, evidence.Evidence{}, nil
	}

	nameCell := cells[cols.name]
	link := firstElement(nameCell, atom.A)
	if link == nil {
		return nil, evidence.Evidence{}, nil
	}

	wikipediaTitle := strings.ReplaceAll(strings.TrimSpace(attrVal(link, "title")), " ", "_")
	if wikipediaTitle == "" {
		wikipediaTitle = strings.ReplaceAll(strings.TrimSpace(nodeText(nameCell)), " ", "_")
	}
	name := strings.TrimSpace(nodeText(link))
	if name == "" {
		name = strings.TrimSpace(nodeText(nameCell))
	}
	if name == "" || wikipediaTitle == "" {
		return nil, evidence.Evidence{}, nil
	}

	personID, err := ident.PersonID(wikipediaTitle)
	if err != nil {
		return nil, evidence.Evidence{}, err
	}

	ref, err := evidence.NewTableRowRef(tableIndex, rowIndex, src.PageTitle,
		evidence.RowMatch{PersonTitle: wikipediaTitle, NameCell: name})
	if err != nil {
		return nil, evidence.Evidence{}, err
	}
	rowEv, err := evidence.New(evidence.SourceMediaWiki, evidence.EndpointParse,
		src.PageTitle, src.PageID, src.RevisionID,
		src.SourceURL, src.RetrievedAt, src.SHA256, ref)
	if err != nil {
		return nil, evidence.Evidence{}, err
	}

	cellText := func(idx int) string {
		if idx < 0 || idx >= len(cells) {
			return ""
		}
		return evidence.CleanSnippetText(nodeText(cells[idx]))
	}

	partyName := cellText(cols.party)
	wahlkreis := cellText(cols.wahlkreis)
	notes := cellText(cols.notes)

	startDate := seed.ExpectedTimeRange.Start
	endDate := seed.ExpectedTimeRange.End
	if d := ParseDateText(cellText(cols.start)); d != "" {
		startDate = d
	}
	if d := ParseDateText(cellText(cols.end)); d != "" {
		endDate = d
	}

	legKey := legislatureID
	if legKey == "" {
		legKey = "unknown"
	}
	mandateID, err := ident.MandateID(personID, legKey, startDate, endDate, "member")
	if err != nil {
		return nil, evidence.Evidence{}, err
	}

	prov := &evidence.Provenance{
		EvidenceIDs:     []string{rowEv.ID},
		SourcePageTitle: src.PageTitle,
		SourcePageID:    src.PageID,
		RevisionID:      src.RevisionID,
		RetrievedAt:     src.RetrievedAt,
		SHA256:          src.SHA256,
	}

	person := model.Person{
		ID:             personID,
		Name:           name,
		WikipediaTitle: wikipediaTitle,
		WikipediaURL:   wikipediaArticleBase + wikipediaTitle,
		EvidenceIDs:    []string{pageEv.ID},
	}
	mandate := model.Mandate{
		ID:            mandateID,
		PersonID:      personID,
		LegislatureID: legislatureID,
		PartyName:     partyName,
		Wahlkreis:     wahlkreis,
		StartDate:     startDate,
		EndDate:       endDate,
		Role:          "member",
		Notes:         notes,
		Events:        eventsFromNotes(notes, rowEv.ID),
		EvidenceIDs:   []string{rowEv.ID},
		EvidenceRefs: []evidence.EvidenceRef{{
			EvidenceID: rowEv.ID,
			SnippetRef: ref,
			Purpose:    "membership_row",
		}},
		Provenance: prov,
	}

	return &model.Member{Person: person, Mandate: mandate}, rowEv, nil
}
