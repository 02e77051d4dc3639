package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/db/inmem"
	"github.com/dekarrin/rowsync/internal/metrics"
	"github.com/dekarrin/rowsync/internal/token"
	"github.com/dekarrin/rowsync/model"
	"github.com/dekarrin/rowsync/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAPI(t *testing.T, secret []byte) *API {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	d := db.New(inmem.New(), db.Options{Metrics: m})
	t.Cleanup(func() { d.Close() })

	recipients, err := store.New[*model.Recipient](model.RecipientCodec{}, nil, store.Options[*model.Recipient]{Metrics: m})
	require.NoError(t, err)
	require.NoError(t, recipients.Register(ctx, d))

	err = d.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		bob := model.NewRecipientWithID("bob", "+15550100", uuid.Nil)
		alice := model.NewRecipientWithID("alice", "", uuid.MustParse("8c78cd2a-16ff-427d-83ff-1ea0e6bcbd7c"), 1, 2)
		if err := recipients.Insert(ctx, tx, bob); err != nil {
			return err
		}
		return recipients.Insert(ctx, tx, alice)
	})
	require.NoError(t, err)

	return New(d, recipients, Options{TokenSecret: secret, Gatherer: reg})
}

func validToken(t *testing.T) string {
	tok, err := token.Generate(testSecret, "tester", 0)
	require.NoError(t, err)
	return tok
}

func Test_API_Endpoints(t *testing.T) {
	testCases := []struct {
		name         string
		method       string
		path         string
		body         string
		contentType  string
		auth         string
		expectStatus int
		expectBody   string
	}{
		{
			name:         "list is sorted by ID",
			method:       http.MethodGet,
			path:         "/api/v1/recipients",
			expectStatus: http.StatusOK,
			expectBody: `[` +
				`{"id":"alice","service_id":"8c78cd2a-16ff-427d-83ff-1ea0e6bcbd7c","devices":[1,2],"identity_changes":0,"registered":true},` +
				`{"id":"bob","phone_number":"+15550100","devices":[],"identity_changes":0,"registered":false}` +
				`]`,
		},
		{
			name:         "count",
			method:       http.MethodGet,
			path:         "/api/v1/recipients/count",
			expectStatus: http.StatusOK,
			expectBody:   `{"count":2}`,
		},
		{
			name:         "get existing",
			method:       http.MethodGet,
			path:         "/api/v1/recipients/bob",
			expectStatus: http.StatusOK,
			expectBody:   `{"id":"bob","phone_number":"+15550100","devices":[],"identity_changes":0,"registered":false}`,
		},
		{
			name:         "get missing",
			method:       http.MethodGet,
			path:         "/api/v1/recipients/carol",
			expectStatus: http.StatusNotFound,
		},
		{
			name:         "create without token",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol","phone_number":"+15550111"}`,
			contentType:  "application/json",
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "create with garbage token",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol","phone_number":"+15550111"}`,
			contentType:  "application/json",
			auth:         "Bearer not-a-jwt",
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "create",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol","phone_number":"+15550111","devices":[3]}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusCreated,
			expectBody:   `{"id":"carol","phone_number":"+15550111","devices":[3],"identity_changes":0,"registered":true}`,
		},
		{
			name:         "create duplicate",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"bob","phone_number":"+15550111"}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusConflict,
		},
		{
			name:         "create with wrong content type",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol","phone_number":"+15550111"}`,
			contentType:  "text/plain",
			auth:         "valid",
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "create with no address",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol"}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "create with bad service ID",
			method:       http.MethodPost,
			path:         "/api/v1/recipients",
			body:         `{"id":"carol","service_id":"nope"}`,
			contentType:  "application/json; charset=utf-8",
			auth:         "valid",
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "delete",
			method:       http.MethodDelete,
			path:         "/api/v1/recipients/bob",
			auth:         "valid",
			expectStatus: http.StatusNoContent,
		},
		{
			name:         "delete missing",
			method:       http.MethodDelete,
			path:         "/api/v1/recipients/carol",
			auth:         "valid",
			expectStatus: http.StatusNotFound,
		},
		{
			name:         "add devices",
			method:       http.MethodPost,
			path:         "/api/v1/recipients/alice/devices",
			body:         `{"devices":[5,1]}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusOK,
			expectBody:   `{"id":"alice","service_id":"8c78cd2a-16ff-427d-83ff-1ea0e6bcbd7c","devices":[1,2,5],"identity_changes":0,"registered":true}`,
		},
		{
			name:         "add no devices",
			method:       http.MethodPost,
			path:         "/api/v1/recipients/alice/devices",
			body:         `{"devices":[]}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "add devices to missing recipient",
			method:       http.MethodPost,
			path:         "/api/v1/recipients/carol/devices",
			body:         `{"devices":[5]}`,
			contentType:  "application/json",
			auth:         "valid",
			expectStatus: http.StatusNotFound,
		},
		{
			name:         "remove device",
			method:       http.MethodDelete,
			path:         "/api/v1/recipients/alice/devices/1",
			auth:         "valid",
			expectStatus: http.StatusOK,
			expectBody:   `{"id":"alice","service_id":"8c78cd2a-16ff-427d-83ff-1ea0e6bcbd7c","devices":[2],"identity_changes":0,"registered":true}`,
		},
		{
			name:         "remove unparsable device",
			method:       http.MethodDelete,
			path:         "/api/v1/recipients/alice/devices/abc",
			auth:         "valid",
			expectStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			a := newTestAPI(t, testSecret)

			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			if tc.auth == "valid" {
				req.Header.Set("Authorization", "Bearer "+validToken(t))
			} else if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			w := httptest.NewRecorder()

			a.Router().ServeHTTP(w, req)

			assert.Equal(tc.expectStatus, w.Code)
			if tc.expectBody != "" {
				assert.JSONEq(tc.expectBody, w.Body.String())
			}
			if tc.expectStatus >= 400 {
				var errResp ErrorResponse
				assert.NoError(json.Unmarshal(w.Body.Bytes(), &errResp))
				assert.Equal(tc.expectStatus, errResp.Status)
				assert.NotEmpty(errResp.Error)
			}
		})
	}
}

func Test_API_WriteIsVisibleToLaterReads(t *testing.T) {
	assert := assert.New(t)
	a := newTestAPI(t, testSecret)
	rtr := a.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipients/bob/devices", strings.NewReader(`{"devices":[9]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	w := httptest.NewRecorder()
	rtr.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	rtr.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recipients/bob", nil))

	assert.Equal(http.StatusOK, w.Code)
	assert.JSONEq(`{"id":"bob","phone_number":"+15550100","devices":[9],"identity_changes":0,"registered":true}`, w.Body.String())
}

func Test_API_NoSecret(t *testing.T) {
	assert := assert.New(t)
	a := newTestAPI(t, nil)
	rtr := a.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/recipients/bob", nil)
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	w := httptest.NewRecorder()
	rtr.ServeHTTP(w, req)
	assert.Equal(http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	rtr.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recipients/bob", nil))
	assert.Equal(http.StatusOK, w.Code)
}

func Test_API_Metrics(t *testing.T) {
	assert := assert.New(t)
	a := newTestAPI(t, testSecret)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), "rowsync_transactions_total")
}

func Test_API_DontPanic(t *testing.T) {
	assert := assert.New(t)
	a := newTestAPI(t, testSecret)

	h := a.dontPanic(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(http.StatusInternalServerError, w.Code)
	assert.NotContains(w.Body.String(), "boom")
}

func Test_Server_Shutdown_NotRunning(t *testing.T) {
	assert := assert.New(t)
	s := NewServer("localhost:0", newTestAPI(t, testSecret))

	assert.Error(s.Shutdown(context.Background()))
}
