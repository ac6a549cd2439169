package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(f.ctx))
		})
	})
	r.Route("/customers/{customerID}/ledger", NewHandler(nil, f.svc).MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPaymentFlow(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)

	rec := do(t, h, http.MethodPost, "/customers/c1/ledger/works", `{"name":"Grill Installation","category":["grills"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var work WorkOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &work))

	rec = do(t, h, http.MethodPost, "/customers/c1/ledger/payments", `{"workId":"`+work.ID+`","totalAmount":"10000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var payment struct {
		ID        string `json:"id"`
		Remaining string `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	assert.Equal(t, "10000", payment.Remaining)

	rec = do(t, h, http.MethodPost, "/customers/c1/ledger/payments/"+payment.ID+"/installments",
		`{"installmentName":"Advance","amount":"12000","paymentMethod":"UPI"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/customers/c1/ledger/works", `{"category":["grills"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/customers/c1/ledger/works/"+work.ID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodDelete, "/customers/c1/ledger/works/"+work.ID+"?cascade=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/customers/c1/ledger/works/"+work.ID+"/analytics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
