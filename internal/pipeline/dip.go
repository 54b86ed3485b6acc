package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/ident"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/pkg/dip"
)

// maxDipPages bounds the cursor walk; the Bundestag person listing is
// a few thousand documents, far below this.
const maxDipPages = 1000

// ingestDip walks the DIP person listing for each requested electoral
// period, caching every page and upserting person records with their
// evidence. Termination follows the API contract: the final page echoes
// the cursor it was called with.
func (r *Runner) ingestDip(ctx context.Context, manifest *cache.Manifest, opts RunOptions) (int, error) {
	total := 0
	for _, wp := range opts.Wahlperiode {
		n, err := r.ingestWahlperiode(ctx, manifest, wp, opts)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Runner) ingestWahlperiode(ctx context.Context, manifest *cache.Manifest, wahlperiode int, opts RunOptions) (int, error) {
	count := 0
	cursor := ""
	for page := 0; page < maxDipPages; page++ {
		params := map[string]string{"wahlperiode": strconv.Itoa(wahlperiode)}
		if cursor != "" {
			params["cursor"] = cursor
		}
		req := cache.Request{
			Source:   evidence.SourceDip,
			Endpoint: evidence.EndpointDipPerson,
			Title:    "person",
			Params:   params,
		}
		resp, err := r.deps.Cache.GetOrFetch(ctx, req, cache.Options{Force: opts.Force})
		if err != nil {
			return count, err
		}
		outcome := "ok"
		if resp.FromCache {
			outcome = "cached"
		}

		var list dip.PersonListResponse
		if err := json.Unmarshal(resp.Raw, &list); err != nil {
			return count, eris.Wrap(err, "pipeline: decode dip person list")
		}

		var evIDs []string
		for _, doc := range list.Documents {
			rec, ev, err := dipRecord(doc, resp.Meta)
			if err != nil {
				return count, err
			}
			if err := r.deps.Store.UpsertEvidence(ctx, ev); err != nil {
				return count, err
			}
			if err := r.deps.Store.UpsertDipPerson(ctx, rec); err != nil {
				return count, err
			}
			evIDs = append(evIDs, ev.ID)
			count++
		}
		_ = manifest.Record(cache.Event{
			Kind:      cache.EventFetch,
			CacheKey:  r.deps.Cache.ResolveKey(req).String(),
			EntityIDs: evIDs,
			Outcome:   outcome,
			Detail:    fmt.Sprintf("dip wahlperiode %d", wahlperiode),
		})

		if list.Cursor == "" || list.Cursor == cursor || len(list.Documents) == 0 {
			return count, nil
		}
		cursor = list.Cursor
	}
	return count, eris.Errorf("pipeline: dip cursor for wahlperiode %d did not terminate", wahlperiode)
}

// dipRecord converts one DIP document into a stored record plus its
// evidence. DIP has no revisions; the evidence identity hangs off the
// person's stable API id.
func dipRecord(doc dip.Person, meta cache.Metadata) (model.DipPersonRecord, evidence.Evidence, error) {
	personID := doc.ID.Int64()
	pageTitle := fmt.Sprintf("dip:person:%d", personID)

	retrievedAt := meta.RetrievedAt.Format(time.RFC3339)
	ev, err := evidence.New(evidence.SourceDip, evidence.EndpointDipPerson,
		pageTitle, 0, 0, meta.SourceURL, retrievedAt, meta.SHA256, nil)
	if err != nil {
		return model.DipPersonRecord{}, evidence.Evidence{}, err
	}

	id, err := ident.ID(ident.NamespacePerson, "dip", strconv.FormatInt(personID, 10))
	if err != nil {
		return model.DipPersonRecord{}, evidence.Evidence{}, err
	}

	return model.DipPersonRecord{
		ID:           id,
		DipPersonID:  personID,
		Vorname:      doc.Vorname,
		Nachname:     doc.Nachname,
		Namenszusatz: doc.Namenszusatz,
		Titel:        doc.Titel,
		Fraktion:     doc.Fraktion.String(),
		Wahlperiode:  doc.Wahlperiode,
		EvidenceIDs:  []string{ev.ID},
	}, ev, nil
}
