package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/seeds"
	"github.com/openparl/evidence-cli/internal/store"
	"github.com/openparl/evidence-cli/pkg/dip"
	"github.com/openparl/evidence-cli/pkg/mediawiki"
)

const membersHTML = `
<div class="mw-parser-output">
<table class="wikitable">
<tr><th>Name</th><th>Partei</th><th>Wahlkreis</th></tr>
<tr><td><a href="/wiki/Stephan_Weil" title="Stephan Weil">Stephan Weil</a></td><td>SPD</td><td>Hannover-Buchholz</td></tr>
<tr><td><a href="/wiki/Johanne_Modder" title="Johanne Modder">Johanne Modder</a></td><td>SPD</td><td>Leer</td></tr>
</table>
</div>`

func testRunnerSeeds() seeds.Set {
	return seeds.Set{
		"nds-17": {
			Key:       "nds-17",
			PageTitle: "Liste_der_Mitglieder_des_Landtages",
			ExpectedTimeRange: seeds.TimeRange{
				Start: "2013-02-19",
				End:   "2017-11-13",
			},
		},
	}
}

func newTestRunner(t *testing.T) (*Runner, *fakeWiki, *fakeDip, store.Store) {
	t.Helper()

	raw := parseRaw(t, "Liste der Mitglieder des Landtages", 42, 100, membersHTML)
	wiki := &fakeWiki{
		pages: map[string]*mediawiki.ParseResponse{
			"Liste_der_Mitglieder_des_Landtages": {
				Title: "Liste der Mitglieder des Landtages", PageID: 42, RevisionID: 100, Raw: raw,
			},
		},
		live: map[string]int64{"Liste_der_Mitglieder_des_Landtages": 100},
	}

	dipRaw := []byte(`{"numFound":1,"cursor":"end","documents":[{"id":7001,"vorname":"Stephan","nachname":"Weil","fraktion":"SPD","wahlperiode":[17]}]}`)
	dipClient := &fakeDip{pages: map[string]*dip.PersonListResponse{
		"":    {NumFound: 1, Cursor: "end", Raw: dipRaw},
		"end": {NumFound: 1, Cursor: "end", Raw: []byte(`{"numFound":1,"cursor":"end","documents":[]}`)},
	}}

	cacheStore, err := cache.NewStore(t.TempDir(), NewSourceFetcher(wiki, dipClient))
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	runner, err := NewRunner(Deps{
		Cache:              cacheStore,
		Store:              st,
		Seeds:              testRunnerSeeds(),
		ExportRoot:         t.TempDir(),
		MaxConcurrentSeeds: 2,
	})
	require.NoError(t, err)
	return runner, wiki, dipClient, st
}

func TestRun_FetchParseReconcile(t *testing.T) {
	t.Parallel()

	runner, _, _, st := newTestRunner(t)
	ctx := context.Background()

	report, err := runner.Run(ctx, RunOptions{
		RunID:       "run-test",
		Wahlperiode: []int{17},
	})
	require.NoError(t, err)

	require.Len(t, report.Seeds, 1)
	assert.Empty(t, report.Seeds[0].Error)
	assert.Equal(t, 2, report.Seeds[0].Members)
	assert.False(t, report.Seeds[0].FromCache)
	assert.Equal(t, 1, report.DipPersons)
	assert.Equal(t, 1, report.Accepted, "Stephan Weil matches the DIP record")

	run, err := st.GetRun(ctx, "run-test")
	require.NoError(t, err)
	assert.Equal(t, "complete", run.Status)
	assert.Equal(t, 1, run.Parsed)

	wikis, err := st.ListWikipediaPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, wikis, 2)

	assertions, err := st.ListAssertions(ctx, store.AssertionFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, assertions)
}

func TestRun_SecondRunServedFromCache(t *testing.T) {
	t.Parallel()

	runner, wiki, dipClient, st := newTestRunner(t)
	ctx := context.Background()

	first, err := runner.Run(ctx, RunOptions{RunID: "run-1", Wahlperiode: []int{17}})
	require.NoError(t, err)
	require.False(t, first.Seeds[0].FromCache)

	wiki.parseErr = assert.AnError // network gone; cache must carry the run
	dipCallsAfterFirst := dipClient.calls

	second, err := runner.Run(ctx, RunOptions{RunID: "run-2", Wahlperiode: []int{17}})
	require.NoError(t, err)
	assert.True(t, second.Seeds[0].FromCache)
	assert.Equal(t, dipCallsAfterFirst, dipClient.calls, "dip pages replayed from cache")

	firstAssertions, err := st.ListAssertions(ctx, store.AssertionFilter{})
	require.NoError(t, err)
	assert.Equal(t, first.Accepted, second.Accepted)
	assert.NotEmpty(t, firstAssertions)
}

func TestRun_SeedFailureIsIsolated(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	runner.deps.Seeds["missing"] = seeds.Seed{
		Key:       "missing",
		PageTitle: "Does_Not_Exist",
	}
	ctx := context.Background()

	report, err := runner.Run(ctx, RunOptions{RunID: "run-mixed", SkipReconcile: true})
	require.NoError(t, err, "one bad seed must not abort the run")

	require.Len(t, report.Seeds, 2)
	byKey := map[string]SeedResult{}
	for _, s := range report.Seeds {
		byKey[s.SeedKey] = s
	}
	assert.Empty(t, byKey["nds-17"].Error)
	assert.NotEmpty(t, byKey["missing"].Error)
	assert.Equal(t, 1, report.Counts.Errors)
}

func TestRun_ManifestRecordsStages(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := runner.Run(ctx, RunOptions{RunID: "run-manifest", Wahlperiode: []int{17}})
	require.NoError(t, err)

	events, err := runner.deps.Cache.ReadManifest("run-manifest")
	require.NoError(t, err)

	kinds := map[cache.EventKind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.GreaterOrEqual(t, kinds[cache.EventFetch], 2, "seed page and dip pages")
	assert.Equal(t, 1, kinds[cache.EventParse])
	assert.Equal(t, 1, kinds[cache.EventReconcile])
	assert.GreaterOrEqual(t, kinds[cache.EventExport], 2, "members and reconciliation exports")
}

func TestRun_ManifestEventsCarryEntityIDs(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := runner.Run(ctx, RunOptions{RunID: "run-entities", Wahlperiode: []int{17}, SkipReconcile: true})
	require.NoError(t, err)

	events, err := runner.deps.Cache.ReadManifest("run-entities")
	require.NoError(t, err)

	for _, ev := range events {
		switch ev.Kind {
		case cache.EventParse:
			require.NotEmpty(t, ev.EntityIDs,
				"parse event for seed %s records no produced evidence IDs", ev.SeedKey)
			for _, id := range ev.EntityIDs {
				stored, err := runner.deps.Store.GetEvidence(ctx, id)
				require.NoError(t, err, "parse event entity %s is not a stored evidence record", id)
				assert.Equal(t, id, stored.ID)
			}
		case cache.EventFetch:
			// The trailing DIP page is legitimately empty; seed fetches
			// always resolve to a page-level evidence identity.
			if ev.SeedKey != "" {
				assert.NotEmpty(t, ev.EntityIDs,
					"fetch event for seed %s records no evidence identity", ev.SeedKey)
			}
		}
	}
}

func TestRun_UnknownSeedKeyFails(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	_, err := runner.Run(context.Background(), RunOptions{SeedKeys: []string{"nope"}})
	assert.Error(t, err)
}

func TestRun_OverrideReachesEngine(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	runner.deps.Overrides = map[string]model.LinkOverride{
		"Stephan_Weil": {DipPersonID: 7001, Status: model.StatusRejected, Reason: "manual review"},
	}
	ctx := context.Background()

	report, err := runner.Run(ctx, RunOptions{RunID: "run-override", Wahlperiode: []int{17}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Accepted)
	assert.GreaterOrEqual(t, report.Rejected, 1)
}
