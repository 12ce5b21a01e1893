package hubspot

import (
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
	"github.com/ajitpratap0/hubtap/pkg/testutil"
)

func TestAssociations(t *testing.T) {
	var batches int64
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/associations/deals/contacts/batch/read": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&batches, 1)

			var req associationsRequest
			dec := jsonpool.GetDecoder(r.Body)
			defer jsonpool.PutDecoder(dec)
			require.NoError(t, dec.Decode(&req))
			assert.LessOrEqual(t, len(req.Inputs), 2)

			testutil.JSONResponse(http.StatusOK, `{"results":[
				{"from":{"id":"`+req.Inputs[0].ID+`"},"to":[{"id":"c1"},{"id":"c2"}]}
			]}`)(w, r)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	out, err := client.Associations(ctx, "deals", "contacts", []string{"d1", "d2", "d3"}, 2)
	require.NoError(t, err)

	// Three ids at chunk size two means two batch calls.
	assert.EqualValues(t, 2, atomic.LoadInt64(&batches))
	assert.Equal(t, []map[string]interface{}{{"id": "c1"}, {"id": "c2"}}, out["d1"])
	assert.Equal(t, []map[string]interface{}{{"id": "c1"}, {"id": "c2"}}, out["d3"])
}

func TestPropertyHistory(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/objects/deals/batch/read": func(w http.ResponseWriter, r *http.Request) {
			var req batchReadRequest
			dec := jsonpool.GetDecoder(r.Body)
			defer jsonpool.PutDecoder(dec)
			require.NoError(t, dec.Decode(&req))

			// History requests name the properties in both fields.
			assert.Equal(t, []string{"dealstage"}, req.Properties)
			assert.Equal(t, []string{"dealstage"}, req.PropertiesWithHistory)

			testutil.JSONResponse(http.StatusOK, `{"results":[
				{"id":"d1","propertiesWithHistory":{"dealstage":[{"value":"won"},{"value":"open"}]}}
			]}`)(w, r)
		},
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	out, err := client.PropertyHistory(ctx, "deals", []string{"d1"}, []string{"dealstage"}, 50)
	require.NoError(t, err)
	require.Contains(t, out, "d1")

	history, ok := out["d1"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, history, "dealstage")
}

func TestObjectProperties(t *testing.T) {
	srv := testutil.APIServer(t, map[string]http.HandlerFunc{
		"/crm/v3/properties/contacts": testutil.JSONResponse(http.StatusOK,
			`{"results":[{"name":"email"},{"name":"lastmodifieddate"},{"label":"nameless"}]}`),
	})

	client := newTestClient(t, srv.URL)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	names, err := client.ObjectProperties(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "lastmodifieddate"}, names)
}
