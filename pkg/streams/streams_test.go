package streams

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubtap/pkg/clients"
	"github.com/ajitpratap0/hubtap/pkg/hubspot"
	"github.com/ajitpratap0/hubtap/pkg/testutil"
)

func testRuntime(t *testing.T, baseURL string) *Runtime {
	t.Helper()
	log := testutil.TestLogger(t)

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = 1000
	httpCfg.RateBurst = 1000

	client := hubspot.NewClient(hubspot.Options{
		BaseURL: baseURL,
		HTTP:    clients.NewHTTPClient(httpCfg, log),
		Tokens:  clients.NewTokenManager(clients.TokenConfig{AccessToken: "test-token"}, log),
		Retry:   clients.NewRetryPolicy(2, time.Millisecond),
		Logger:  log,
	})

	return &Runtime{Client: client, Logger: log}
}

func TestCatalogDefinitions(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, 13)

	seen := map[string]bool{}
	for _, def := range catalog {
		assert.False(t, seen[def.Name()], "duplicate stream %s", def.Name())
		seen[def.Name()] = true

		if def.Replication() == ReplicationIncremental {
			assert.NotEmpty(t, def.BookmarkKey(), "incremental stream %s needs a bookmark key", def.Name())
		} else {
			assert.Empty(t, def.BookmarkKey(), "full table stream %s must not carry a bookmark key", def.Name())
		}
	}

	for _, name := range []string{
		"contacts", "deals", "companies", "owners", "deal_pipelines",
		"contact_properties", "company_properties", "deal_properties",
		"engagements", "email_events", "forms", "submissions",
		"contacts_events",
	} {
		assert.True(t, seen[name], "missing stream %s", name)
	}
}

func TestLookup(t *testing.T) {
	def, ok := Lookup("contacts")
	require.True(t, ok)
	assert.Equal(t, "contacts", def.Name())

	_, ok = Lookup("tickets")
	assert.False(t, ok)
}

func TestContactsWindowRewind(t *testing.T) {
	def, ok := Lookup("contacts")
	require.True(t, ok)

	start := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	gotStart, gotEnd := def.Window(start, end)
	assert.True(t, gotStart.Equal(start.Add(-24*time.Hour)))
	assert.True(t, gotEnd.Equal(end))
}

func TestDealsWindowUnchanged(t *testing.T) {
	def, ok := Lookup("deals")
	require.True(t, ok)

	start := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	gotStart, gotEnd := def.Window(start, end)
	assert.True(t, gotStart.Equal(start))
	assert.True(t, gotEnd.Equal(end))
}

func TestCursorStreamRecords(t *testing.T) {
	def, ok := Lookup("companies")
	require.True(t, ok)

	page := &hubspot.Page{Items: []map[string]interface{}{
		{"id": "1", "updatedAt": "2026-06-01T10:00:00Z"},
		{"id": "2"},
	}}

	records, err := def.Records(nil, nil, page)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].Data["id"])
	assert.True(t, records[0].ReplicationValue.Equal(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, records[1].ReplicationValue.IsZero())
}

func TestOffsetStreamNestedReplicationValue(t *testing.T) {
	def, ok := Lookup("engagements")
	require.True(t, ok)

	page := &hubspot.Page{Items: []map[string]interface{}{
		{"engagement": map[string]interface{}{"id": float64(7), "lastUpdated": float64(1717236000000)}},
	}}

	records, err := def.Records(nil, nil, page)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].ReplicationValue.Equal(time.UnixMilli(1717236000000)))
}

// Numeric offsets and epoch values have to survive the wire decode, not
// just hand-built pages.
func TestOffsetStreamPaginatesOverWire(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/engagements/v1/engagements/paged": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("offset") == "" {
				testutil.JSONResponse(http.StatusOK,
					`{"results":[{"engagement":{"id":1,"lastUpdated":1717236000000}}],"hasMore":true,"offset":250}`)(w, r)
				return
			}
			assert.Equal(t, "250", r.URL.Query().Get("offset"))
			testutil.JSONResponse(http.StatusOK,
				`{"results":[{"engagement":{"id":2,"lastUpdated":1717237000000}}],"hasMore":false,"offset":500}`)(w, r)
		},
	})
	rt := testRuntime(t, srv.URL)

	def, ok := Lookup("engagements")
	require.True(t, ok)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	pager, err := def.Pages(ctx, rt, time.Time{}, time.Now())
	require.NoError(t, err)

	var values []time.Time
	for {
		page, err := pager.Next(ctx)
		require.NoError(t, err)
		if page == nil {
			break
		}
		records, err := def.Records(ctx, rt, page)
		require.NoError(t, err)
		for _, rec := range records {
			values = append(values, rec.ReplicationValue)
		}
	}

	require.Len(t, values, 2)
	assert.True(t, values[0].Equal(time.UnixMilli(1717236000000)))
	assert.True(t, values[1].Equal(time.UnixMilli(1717237000000)))
}

func TestContactsEnrichment(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/associations/contacts/companies/batch/read": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"from":{"id":"c1"},"to":[{"id":"co9"}]}]}`),
	})
	rt := testRuntime(t, srv.URL)

	def, ok := Lookup("contacts")
	require.True(t, ok)

	page := &hubspot.Page{Items: []map[string]interface{}{
		{"id": "c1", "properties": map[string]interface{}{"lastmodifieddate": "2026-06-01T10:00:00Z"}},
		{"id": "c2", "properties": map[string]interface{}{"lastmodifieddate": "2026-06-01T11:00:00Z"}},
	}}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	records, err := def.Records(ctx, rt, page)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assoc, ok := records[0].Data["associations"].(map[string]interface{})
	require.True(t, ok)
	companies, ok := assoc["companies"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []map[string]interface{}{{"id": "co9"}}, companies["results"])

	// Contacts without associations still carry an empty results array.
	assoc, ok = records[1].Data["associations"].(map[string]interface{})
	require.True(t, ok)
	companies, ok = assoc["companies"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, companies["results"])
}

func TestDealsEnrichment(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/associations/deals/contacts/batch/read": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"from":{"id":"d1"},"to":[{"id":"c5"}]}]}`),
		"/crm/v3/associations/deals/companies/batch/read": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"from":{"id":"d1"},"to":[{"id":"co2"}]}]}`),
		"/crm/v3/objects/deals/batch/read": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"id":"d1","propertiesWithHistory":{"dealstage":[{"value":"won"}]}}]}`),
	})
	rt := testRuntime(t, srv.URL)

	def, ok := Lookup("deals")
	require.True(t, ok)

	page := &hubspot.Page{Items: []map[string]interface{}{
		{"id": "d1", "properties": map[string]interface{}{"hs_lastmodifieddate": "1717236000000"}},
	}}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	records, err := def.Records(ctx, rt, page)
	require.NoError(t, err)
	require.Len(t, records, 1)

	data := records[0].Data
	assoc, ok := data["associations"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, assoc, "contacts")
	assert.Contains(t, assoc, "companies")
	assert.Contains(t, data, "propertiesWithHistory")

	assert.True(t, records[0].ReplicationValue.Equal(time.UnixMilli(1717236000000)))
}

func TestSubmissionsPaginator(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/forms/v2/forms": testutil.JSONResponse(http.StatusOK,
			`[{"guid":"f1"},{"guid":"dead"},{"guid":"f2"}]`),
		"/form-integrations/v1/submissions/forms/f1": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"submittedAt":1717236000000}]}`),
		"/form-integrations/v1/submissions/forms/dead": testutil.JSONResponse(http.StatusNotFound,
			`{"status":"error"}`),
		"/form-integrations/v1/submissions/forms/f2": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"submittedAt":1717237000000},{"submittedAt":1717238000000}]}`),
	})
	rt := testRuntime(t, srv.URL)

	def, ok := Lookup("submissions")
	require.True(t, ok)
	assert.Equal(t, ReplicationFullTable, def.Replication())

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	pager, err := def.Pages(ctx, rt, time.Time{}, time.Now())
	require.NoError(t, err)

	var forms []string
	var total int
	for {
		page, err := pager.Next(ctx)
		require.NoError(t, err)
		if page == nil {
			break
		}
		records, err := def.Records(ctx, rt, page)
		require.NoError(t, err)
		for _, rec := range records {
			formID, _ := rec.Data["form_id"].(string)
			forms = append(forms, formID)
			assert.True(t, rec.ReplicationValue.IsZero())
			total++
		}
	}

	// The unreadable form is skipped; the others yield tagged records.
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"f1", "f2", "f2"}, forms)
}

func TestContactActivityCollection(t *testing.T) {
	d := NewDiscovered()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	d.SetWindow(start, start.Add(24*time.Hour))
	rt := &Runtime{Discovered: d}

	collectContactActivity(rt, map[string]interface{}{
		"id": "c1",
		"properties": map[string]interface{}{
			"hs_calculated_form_submissions": "g1:1717236000000;g2:1717237000000",
			"hs_analytics_last_timestamp":    "2026-06-01T10:00:00Z",
		},
	})
	collectContactActivity(rt, map[string]interface{}{
		"id": "c2",
		"properties": map[string]interface{}{
			"hs_calculated_form_submissions": "g1:1717238000000",
			"recent_conversion_date":         "2026-05-01T10:00:00Z",
		},
	})
	collectContactActivity(rt, map[string]interface{}{
		"id": "c3",
		"properties": map[string]interface{}{
			"recent_conversion_date": "2026-06-01T12:00:00Z",
		},
	})

	// c2's activity predates the window; its guid still counts.
	assert.Equal(t, []string{"g1", "g2"}, d.FormGUIDs())
	assert.Equal(t, []string{"c1", "c3"}, d.ContactIDs())
}

func TestSubmissionsMergeContactGUIDs(t *testing.T) {
	d := NewDiscovered()
	d.AddFormGUID("from-contact")
	d.AddFormGUID("f2")

	// Contact-referenced guids lead; endpoint guids follow without repeats.
	assert.Equal(t, []string{"from-contact", "f2", "f1"}, mergeGUIDs(d, []string{"f1", "f2"}))
	assert.Equal(t, []string{"f1", "f2"}, mergeGUIDs(nil, []string{"f1", "f2"}))
}

func TestContactsEventsFanOut(t *testing.T) {
	var queried []string
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/events/v3/events": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			id := q.Get("objectId")
			if id == "" {
				// Capability probe.
				testutil.JSONResponse(http.StatusOK, `{"results":[]}`)(w, r)
				return
			}
			queried = append(queried, id)
			assert.Equal(t, "contact", q.Get("objectType"))
			assert.NotEmpty(t, q.Get("occurredAfter"))
			assert.NotEmpty(t, q.Get("occurredBefore"))
			testutil.JSONResponse(http.StatusOK,
				`{"results":[{"id":"e-`+id+`","occurredAt":"2026-06-01T10:00:00Z"}]}`)(w, r)
		},
	})
	rt := testRuntime(t, srv.URL)

	d := NewDiscovered()
	windowEnd := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	d.SetWindow(windowEnd.Add(-24*time.Hour), windowEnd)
	d.AddContactID("c1")
	d.AddContactID("c2")
	rt.Discovered = d

	def, ok := Lookup("contacts_events")
	require.True(t, ok)
	assert.Equal(t, "lastSynced", def.BookmarkKey())

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	pager, err := def.Pages(ctx, rt, time.Time{}, time.Now())
	require.NoError(t, err)

	var total int
	for {
		page, err := pager.Next(ctx)
		require.NoError(t, err)
		if page == nil {
			break
		}
		records, err := def.Records(ctx, rt, page)
		require.NoError(t, err)
		for _, rec := range records {
			assert.True(t, rec.ReplicationValue.Equal(windowEnd))
			total++
		}
	}

	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"c1", "c2"}, queried)
}

func TestContactsEventsSkippedWithoutEnterprise(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/events/v3/events": testutil.JSONResponse(http.StatusForbidden,
			`{"status":"error","category":"MISSING_SCOPES"}`),
	})
	rt := testRuntime(t, srv.URL)

	d := NewDiscovered()
	d.SetWindow(time.Now().Add(-time.Hour), time.Now())
	d.AddContactID("c1")
	rt.Discovered = d

	def, ok := Lookup("contacts_events")
	require.True(t, ok)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	pager, err := def.Pages(ctx, rt, time.Time{}, time.Now())
	require.NoError(t, err)

	page, err := pager.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestContactsEventsWithoutDiscoveredContacts(t *testing.T) {
	rt := &Runtime{}

	def, ok := Lookup("contacts_events")
	require.True(t, ok)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	// No discovered contacts means no API traffic at all.
	pager, err := def.Pages(ctx, rt, time.Time{}, time.Now())
	require.NoError(t, err)

	page, err := pager.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, page)
}
