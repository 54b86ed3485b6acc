package parser

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/ident"
	"github.com/openparl/evidence-cli/internal/model"
)

var infoboxClass = regexp.MustCompile(`infobox|biografie`)

// ParsePersonPage extracts a person's own article: lead paragraphs plus
// birth and death dates from the infobox. The returned evidence is a
// lead_paragraph record for the page revision; the person's evidence ref
// points at it with purpose person_page_intro.
func ParsePersonPage(src PageSource) (model.Person, evidence.Evidence, error) {
	root, err := html.Parse(strings.NewReader(src.HTML))
	if err != nil {
		return model.Person{}, evidence.Evidence{}, eris.Wrap(err, "parser: parse html")
	}

	ref := evidence.NewLeadParagraphRef()
	ev, err := evidence.New(evidence.SourceMediaWiki, evidence.EndpointParse,
		src.PageTitle, src.PageID, src.RevisionID,
		src.SourceURL, src.RetrievedAt, src.SHA256, ref)
	if err != nil {
		return model.Person{}, evidence.Evidence{}, err
	}

	personID, err := ident.PersonID(src.PageTitle)
	if err != nil {
		return model.Person{}, evidence.Evidence{}, err
	}

	birth, death := extractLifeDates(root)

	person := model.Person{
		ID:             personID,
		Name:           strings.ReplaceAll(src.PageTitle, "_", " "),
		WikipediaTitle: src.PageTitle,
		WikipediaURL:   wikipediaArticleBase + src.PageTitle,
		BirthDate:      birth,
		DeathDate:      death,
		Intro:          extractIntro(root),
		EvidenceIDs:    []string{ev.ID},
		EvidenceRefs: []evidence.EvidenceRef{{
			EvidenceID: ev.ID,
			SnippetRef: ref,
			Purpose:    "person_page_intro",
		}},
		Provenance: &evidence.Provenance{
			EvidenceIDs:     []string{ev.ID},
			SourcePageTitle: src.PageTitle,
			SourcePageID:    src.PageID,
			RevisionID:      src.RevisionID,
			RetrievedAt:     src.RetrievedAt,
			SHA256:          src.SHA256,
		},
	}
	return person, ev, nil
}

// extractIntro collects the article's leading paragraphs: direct children
// of the content div up to the first section heading or table. Coordinate
// hatnotes are dropped.
func extractIntro(root *html.Node) string {
	content := findByClass(root, "mw-parser-output")
	if content == nil {
		return ""
	}

	var paragraphs []string
	for c := content.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.P:
			text := evidence.CleanSnippetText(nodeText(c))
			if text != "" && !strings.HasPrefix(text, "Koordinaten") {
				paragraphs = append(paragraphs, text)
			}
		case atom.H2, atom.H3, atom.Table:
			return strings.Join(paragraphs, "\n\n")
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// extractLifeDates reads birth and death dates from the infobox. Birth dates
// are only taken from machine-readable markup (a bday span or a time element
// with a datetime attribute), never guessed from prose; death dates fall
// back to the cell text.
func extractLifeDates(root *html.Node) (birth, death string) {
	var infobox *html.Node
	for _, t := range elements(root, atom.Table) {
		if classMatches(t, infoboxClass) {
			infobox = t
			break
		}
	}
	if infobox == nil {
		return "", ""
	}

	for _, row := range elements(infobox, atom.Tr) {
		th := firstElement(row, atom.Th)
		td := firstElement(row, atom.Td)
		if th == nil || td == nil {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(nodeText(th)))
		switch {
		case strings.Contains(label, "geburt") || strings.Contains(label, "geboren"):
			if birth == "" {
				birth = machineDate(td)
			}
		case strings.Contains(label, "tod") || strings.Contains(label, "gestorben") || strings.Contains(label, "verstorben"):
			if death == "" {
				death = machineDate(td)
				if death == "" {
					death = ParseDateText(nodeText(td))
				}
			}
		}
	}
	return birth, death
}

// machineDate pulls a date from markup inside cell: <span class="bday"> or
// <time datetime="...">.
func machineDate(cell *html.Node) string {
	for _, span := range elements(cell, atom.Span) {
		if hasClass(span, "bday") {
			if d := ParseDateText(nodeText(span)); d != "" {
				return d
			}
		}
	}
	for _, t := range elements(cell, atom.Time) {
		if d := ParseDateText(attrVal(t, "datetime")); d != "" {
			return d
		}
		if d := ParseDateText(nodeText(t)); d != "" {
			return d
		}
	}
	return ""
}

// WikipediaRecord converts a parsed person page into the Wikipedia-side
// reconciliation record for the same revision.
func WikipediaRecord(p model.Person, src PageSource) model.WikipediaPersonRecord {
	return model.WikipediaPersonRecord{
		ID:             p.ID,
		WikipediaTitle: p.WikipediaTitle,
		WikipediaURL:   p.WikipediaURL,
		PageID:         src.PageID,
		RevisionID:     src.RevisionID,
		Name:           p.Name,
		BirthDate:      p.BirthDate,
		DeathDate:      p.DeathDate,
		Intro:          p.Intro,
		EvidenceIDs:    p.EvidenceIDs,
		Provenance:     p.Provenance,
	}
}
