// Package reconcile merges Wikipedia and DIP person records into
// canonical identities with an auditable decision trail.
//
// The procedure is deliberately rule-based: normalized names are
// compared under a fixed scoring table, acceptance requires both a
// score threshold and a margin over the runner-up, ambiguity is a
// first-class pending outcome, and operator overrides are applied as a
// separate final stage so the computed ruleset stays auditable on its
// own. Re-running over unchanged inputs reproduces identical IDs and
// statuses.
package reconcile

import (
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/ident"
	"github.com/openparl/evidence-cli/internal/model"
)

// maxPendingCandidates bounds how many pending assertions one
// ambiguous record produces.
const maxPendingCandidates = 3

// noCandidateRef marks an assertion recording that no DIP candidate
// scored at all.
const noCandidateRef = "none"

// Engine runs ruleset v1 over two closed record sets.
type Engine struct {
	rules     *Ruleset
	overrides map[string]model.LinkOverride
	now       func() time.Time
}

// NewEngine creates an engine with the given ruleset and override set.
// A nil ruleset gets the defaults.
func NewEngine(rules *Ruleset, overrides map[string]model.LinkOverride) *Engine {
	if rules == nil {
		rules = NewRuleset()
	}
	if overrides == nil {
		overrides = map[string]model.LinkOverride{}
	}
	return &Engine{rules: rules, overrides: overrides, now: time.Now}
}

// Result is the outcome of one reconciliation run.
type Result struct {
	CanonicalPersons []model.CanonicalPerson
	Assertions       []model.PersonLinkAssertion

	Accepted int
	Pending  int
	Rejected int
}

type scoredCandidate struct {
	dip   model.DipPersonRecord
	score float64
}

// Reconcile computes assertions and canonical persons for the given
// record sets. Inputs are treated as closed; output ordering and IDs
// are deterministic regardless of input order.
func (e *Engine) Reconcile(wiki []model.WikipediaPersonRecord, dip []model.DipPersonRecord) (*Result, error) {
	wikiSorted := make([]model.WikipediaPersonRecord, len(wiki))
	copy(wikiSorted, wiki)
	sort.Slice(wikiSorted, func(i, j int) bool {
		return wikiSorted[i].WikipediaTitle < wikiSorted[j].WikipediaTitle
	})

	// Score both directions up front. Acceptance in one direction must
	// also be unambiguous in the other; the stricter outcome wins.
	wikiCandidates := make(map[string][]scoredCandidate, len(wikiSorted))
	dipBest := make(map[int64][]scoredWiki, len(dip))
	for _, w := range wikiSorted {
		for _, d := range dip {
			score := e.rules.Score(w, d)
			if score <= 0 {
				continue
			}
			wikiCandidates[w.WikipediaTitle] = append(wikiCandidates[w.WikipediaTitle], scoredCandidate{dip: d, score: score})
			dipBest[d.DipPersonID] = append(dipBest[d.DipPersonID], scoredWiki{title: w.WikipediaTitle, score: score})
		}
	}
	for title := range wikiCandidates {
		sortCandidates(wikiCandidates[title])
	}
	for id := range dipBest {
		sortScoredWiki(dipBest[id])
	}

	result := &Result{}
	seenAssertions := make(map[string]bool)
	seenCanonical := make(map[string]bool)

	for _, w := range wikiSorted {
		if ov, ok := e.overrides[w.WikipediaTitle]; ok {
			e.applyOverride(result, seenAssertions, seenCanonical, w, ov, dip)
			continue
		}
		e.decide(result, seenAssertions, seenCanonical, w, wikiCandidates[w.WikipediaTitle], dipBest)
	}

	return result, nil
}

type scoredWiki struct {
	title string
	score float64
}

func sortCandidates(cands []scoredCandidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].dip.DipPersonID < cands[j].dip.DipPersonID
	})
}

func sortScoredWiki(cands []scoredWiki) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].title < cands[j].title
	})
}

// decide classifies one Wikipedia record against its scored candidates.
func (e *Engine) decide(
	result *Result,
	seenAssertions, seenCanonical map[string]bool,
	w model.WikipediaPersonRecord,
	candidates []scoredCandidate,
	dipBest map[int64][]scoredWiki,
) {
	if len(candidates) == 0 {
		e.appendAssertion(result, seenAssertions, model.PersonLinkAssertion{
			ID:                 assertionID(w.ID, noCandidateRef),
			WikipediaPersonRef: w.ID,
			DipPersonRef:       noCandidateRef,
			RulesetVersion:     RulesetVersion,
			Method:             model.MethodRuleset,
			Score:              0,
			Status:             model.StatusPending,
			Reason:             "no candidate with matching family name",
			EvidenceIDs:        w.EvidenceIDs,
			CreatedAt:          e.timestamp(),
		})
		return
	}

	best := candidates[0]
	second := 0.0
	if len(candidates) > 1 {
		second = candidates[1].score
	}

	forwardOK := best.score >= acceptThreshold && best.score-second >= acceptMargin
	reverseOK, reverseReason := e.reverseUnambiguous(w.WikipediaTitle, best.dip.DipPersonID, dipBest)

	if forwardOK && reverseOK {
		e.accept(result, seenAssertions, seenCanonical, w, best)
		return
	}

	reason := ambiguousReason(best.score, second)
	if forwardOK && !reverseOK {
		reason = reverseReason
	}
	for i, cand := range candidates {
		if i >= maxPendingCandidates {
			break
		}
		e.appendAssertion(result, seenAssertions, model.PersonLinkAssertion{
			ID:                 assertionID(w.ID, dipRef(cand.dip)),
			WikipediaPersonRef: w.ID,
			DipPersonRef:       dipRef(cand.dip),
			RulesetVersion:     RulesetVersion,
			Method:             model.MethodRuleset,
			Score:              cand.score,
			Status:             model.StatusPending,
			Reason:             reason,
			EvidenceIDs:        mergeEvidence(w.EvidenceIDs, cand.dip.EvidenceIDs),
			CreatedAt:          e.timestamp(),
		})
	}
}

// reverseUnambiguous checks the DIP-side view of a proposed accept: the
// DIP record's own best Wikipedia candidate must be this record, with
// the same margin discipline.
func (e *Engine) reverseUnambiguous(wikiTitle string, dipID int64, dipBest map[int64][]scoredWiki) (bool, string) {
	cands := dipBest[dipID]
	if len(cands) == 0 {
		return true, ""
	}
	if cands[0].title != wikiTitle {
		return false, "reverse direction prefers a different record: " + cands[0].title
	}
	if len(cands) > 1 && cands[0].score-cands[1].score < acceptMargin {
		return false, ambiguousReason(cands[0].score, cands[1].score) + " (reverse direction)"
	}
	return true, ""
}

func (e *Engine) accept(
	result *Result,
	seenAssertions, seenCanonical map[string]bool,
	w model.WikipediaPersonRecord,
	best scoredCandidate,
) {
	evidenceIDs := mergeEvidence(w.EvidenceIDs, best.dip.EvidenceIDs)
	canonicalID := mustCanonicalID(w.WikipediaTitle)

	e.appendAssertion(result, seenAssertions, model.PersonLinkAssertion{
		ID:                 assertionID(w.ID, dipRef(best.dip)),
		WikipediaPersonRef: w.ID,
		DipPersonRef:       dipRef(best.dip),
		RulesetVersion:     RulesetVersion,
		Method:             model.MethodRuleset,
		Score:              best.score,
		Status:             model.StatusAccepted,
		Reason:             acceptReason(best.score),
		CanonicalPersonID:  canonicalID,
		EvidenceIDs:        evidenceIDs,
		CreatedAt:          e.timestamp(),
	})

	e.appendCanonical(result, seenCanonical, model.CanonicalPerson{
		ID:          canonicalID,
		DisplayName: w.Name,
		Identifiers: map[string]string{
			"wikipedia_title":   w.WikipediaTitle,
			"wikipedia_page_id": strconv.FormatInt(w.PageID, 10),
			"dip_person_id":     dipRef(best.dip),
		},
		EvidenceIDs: evidenceIDs,
		CreatedAt:   e.timestamp(),
		UpdatedAt:   e.timestamp(),
	})
}

// applyOverride replaces any computed decision for the record with the
// operator's. Overrides win even when the ruleset would have decided
// differently.
func (e *Engine) applyOverride(
	result *Result,
	seenAssertions, seenCanonical map[string]bool,
	w model.WikipediaPersonRecord,
	ov model.LinkOverride,
	dip []model.DipPersonRecord,
) {
	status := model.StatusAccepted
	if ov.Status == model.StatusRejected {
		status = model.StatusRejected
	}
	reason := ov.Reason
	if reason == "" {
		reason = "manual override"
	}

	ref := strconv.FormatInt(ov.DipPersonID, 10)
	evidenceIDs := w.EvidenceIDs
	var dipRecord *model.DipPersonRecord
	for i := range dip {
		if dip[i].DipPersonID == ov.DipPersonID {
			dipRecord = &dip[i]
			break
		}
	}
	if dipRecord != nil {
		evidenceIDs = mergeEvidence(w.EvidenceIDs, dipRecord.EvidenceIDs)
	} else if status == model.StatusAccepted {
		zap.L().Warn("override targets a DIP record outside the input set",
			zap.String("wikipedia_title", w.WikipediaTitle),
			zap.Int64("dip_person_id", ov.DipPersonID),
		)
	}

	assertion := model.PersonLinkAssertion{
		ID:                 assertionID(w.ID, ref),
		WikipediaPersonRef: w.ID,
		DipPersonRef:       ref,
		RulesetVersion:     RulesetVersion,
		Method:             model.MethodOverride,
		Score:              1.0,
		Status:             status,
		Reason:             reason,
		EvidenceIDs:        evidenceIDs,
		CreatedAt:          e.timestamp(),
	}

	if status == model.StatusAccepted {
		canonicalID := mustCanonicalID(w.WikipediaTitle)
		assertion.CanonicalPersonID = canonicalID
		e.appendCanonical(result, seenCanonical, model.CanonicalPerson{
			ID:          canonicalID,
			DisplayName: w.Name,
			Identifiers: map[string]string{
				"wikipedia_title":   w.WikipediaTitle,
				"wikipedia_page_id": strconv.FormatInt(w.PageID, 10),
				"dip_person_id":     ref,
			},
			EvidenceIDs: evidenceIDs,
			CreatedAt:   e.timestamp(),
			UpdatedAt:   e.timestamp(),
		})
	}

	e.appendAssertion(result, seenAssertions, assertion)
}

func (e *Engine) appendAssertion(result *Result, seen map[string]bool, a model.PersonLinkAssertion) {
	if seen[a.ID] {
		return
	}
	seen[a.ID] = true
	result.Assertions = append(result.Assertions, a)
	switch a.Status {
	case model.StatusAccepted:
		result.Accepted++
	case model.StatusPending:
		result.Pending++
	case model.StatusRejected:
		result.Rejected++
	}
}

func (e *Engine) appendCanonical(result *Result, seen map[string]bool, p model.CanonicalPerson) {
	if seen[p.ID] {
		return
	}
	seen[p.ID] = true
	result.CanonicalPersons = append(result.CanonicalPersons, p)
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func dipRef(d model.DipPersonRecord) string {
	return strconv.FormatInt(d.DipPersonID, 10)
}

// assertionID is the deterministic upsert key for one assertion: the
// pair of record references plus the ruleset version.
func assertionID(wikiRef, dipRef string) string {
	return ident.MustID(ident.NamespacePerson, wikiRef, dipRef, RulesetVersion)
}

// mustCanonicalID derives the canonical person ID from the Wikipedia
// title of an accepted pairing.
func mustCanonicalID(wikipediaTitle string) string {
	id, err := ident.PersonID(wikipediaTitle)
	if err != nil {
		// Wikipedia records without a title never reach acceptance.
		panic(err)
	}
	return id
}

// mergeEvidence concatenates two evidence lists, deduplicating while
// preserving first-seen order.
func mergeEvidence(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, id := range a {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
