package dashboard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"skillendorse/dashboard"
	"skillendorse/gateway"
	"skillendorse/idempotency"
	"skillendorse/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUploader struct {
	mu    sync.Mutex
	calls int
	err   error
	crash bool
}

func (u *countingUploader) Upload(ctx context.Context, filename string, body io.Reader) (gateway.ContentRef, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.crash {
		panic("pinning client crashed")
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	if u.err != nil {
		return "", u.err
	}
	return "ipfs://Qm123", nil
}

type fixture struct {
	ledger    *ledgertest.Ledger
	owner     *ledgertest.Wallet
	validator *ledgertest.Wallet
	filer     *ledgertest.Wallet
	subject   *ledgertest.Wallet
	uploader  *countingUploader
	idem      *idempotency.Store
	metrics   *gateway.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    ledgertest.MustNew(),
		owner:     ledgertest.MustWallet("owner"),
		validator: ledgertest.MustWallet("validator"),
		filer:     ledgertest.MustWallet("filer"),
		subject:   ledgertest.MustWallet("subject"),
		uploader:  &countingUploader{},
		metrics:   gateway.NewMetrics("test"),
	}
	require.NoError(t, f.ledger.Init(f.owner, f.validator.Account))

	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { idem.Close() })
	f.idem = idem
	return f
}

// as returns the dashboard of a process connected with w's wallet.
func (f *fixture) as(t *testing.T, w *ledgertest.Wallet) http.Handler {
	t.Helper()
	client := gateway.NewLedgerClient("gateway.pinata.cloud", f.metrics)
	srv := dashboard.New(dashboard.Options{
		Service:        gateway.NewService(client, f.uploader, 1<<20),
		Session:        f.ledger.Session(w),
		Idempotency:    f.idem,
		Metrics:        f.metrics,
		MaxUploadBytes: 1 << 20,
	})
	h, err := srv.Handler()
	require.NoError(t, err)
	return h
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func formFields(subject, review string) map[string]string {
	return map[string]string{
		"subject":      subject,
		"endorserName": "Ravi",
		"endorseeName": "Lakshmi",
		"location":     "Nuzvid",
		"occupation":   "Teacher",
		"phoneNumber":  "+91 90000 00000",
		"reason":       "Taught mathematics",
		"review":       review,
	}
}

func submitRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "certificate.pdf")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/endorsements", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec = serve(h, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
}

func TestSubmitEndorsement(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	rec := serve(h, submitRequest(t, formFields(f.subject.Account, "4"), bytes.Repeat([]byte("x"), 10*1024)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result gateway.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, gateway.ContentRef("ipfs://Qm123"), result.AttachmentRef)
	assert.NotEmpty(t, result.Receipt.TransactionID)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 4, result.Records[0].Review)
	assert.Equal(t, "https://gateway.pinata.cloud/ipfs/Qm123", result.Records[0].AttachmentURL)
	assert.Equal(t, 1, f.uploader.calls)
	assert.Equal(t, 1, f.ledger.Submits("FileEndorsement"))
}

func TestSubmitReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	send := func() *httptest.ResponseRecorder {
		req := submitRequest(t, formFields(f.subject.Account, "5"), []byte("certificate"))
		req.Header.Set("Idempotency-Key", "retry-1")
		return serve(h, req)
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Equal(t, 1, f.uploader.calls, "no second upload")
	assert.Equal(t, 1, f.ledger.Submits("FileEndorsement"), "no second ledger write")

	// The same key on another route is refused.
	req := jsonRequest(http.MethodPost, "/api/validators", `{"account":"`+f.filer.Account+`"}`)
	req.Header.Set("Idempotency-Key", "retry-1")
	rec := serve(f.as(t, f.owner), req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "idempotency_key_reused", decode(t, rec)["error"])
}

func TestSubmitFailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)
	f.uploader.err = errors.New("pinning service down")

	req := submitRequest(t, formFields(f.subject.Account, "3"), []byte("certificate"))
	req.Header.Set("Idempotency-Key", "retry-2")
	rec := serve(h, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upload_failed", decode(t, rec)["error"])
	assert.Zero(t, f.ledger.Submits("FileEndorsement"))

	f.uploader.err = nil
	req = submitRequest(t, formFields(f.subject.Account, "3"), []byte("certificate"))
	req.Header.Set("Idempotency-Key", "retry-2")
	rec = serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.ledger.Submits("FileEndorsement"))
}

func TestSubmitKeyReusedWithOtherPayload(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	req := submitRequest(t, formFields(f.subject.Account, "5"), []byte("certificate"))
	req.Header.Set("Idempotency-Key", "retry-3")
	rec := serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	changed := []struct {
		name   string
		fields map[string]string
		file   []byte
	}{
		{"other review", formFields(f.subject.Account, "2"), []byte("certificate")},
		{"other attachment", formFields(f.subject.Account, "5"), []byte("another certificate")},
	}
	for _, tc := range changed {
		t.Run(tc.name, func(t *testing.T) {
			req := submitRequest(t, tc.fields, tc.file)
			req.Header.Set("Idempotency-Key", "retry-3")
			rec := serve(h, req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, "idempotency_key_reused", decode(t, rec)["error"])
			assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
		})
	}
	assert.Equal(t, 1, f.uploader.calls)
	assert.Equal(t, 1, f.ledger.Submits("FileEndorsement"))
}

func TestSubmitPanicReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)
	f.uploader.crash = true

	req := submitRequest(t, formFields(f.subject.Account, "4"), []byte("certificate"))
	req.Header.Set("Idempotency-Key", "retry-4")
	rec := serve(h, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, f.ledger.Submits("FileEndorsement"))

	f.uploader.crash = false
	req = submitRequest(t, formFields(f.subject.Account, "4"), []byte("certificate"))
	req.Header.Set("Idempotency-Key", "retry-4")
	rec = serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.ledger.Submits("FileEndorsement"))
}

func TestSubmitValidationErrors(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	cases := []struct {
		name   string
		fields map[string]string
		file   []byte
		field  string
	}{
		{"fractional review", formFields(f.subject.Account, "4.5"), []byte("x"), "review"},
		{"missing review", formFields(f.subject.Account, ""), []byte("x"), "review"},
		{"bad subject", formFields("0x1234", "3"), []byte("x"), "subject"},
		{"missing file", formFields(f.subject.Account, "3"), nil, "file"},
		{"oversized file", formFields(f.subject.Account, "3"), bytes.Repeat([]byte("x"), 1<<20+1), "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, submitRequest(t, tc.fields, tc.file))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, "validation_error", body["error"])
			assert.Equal(t, tc.field, body["field"])
		})
	}
	assert.Zero(t, f.uploader.calls)
	assert.Zero(t, f.ledger.Submits("FileEndorsement"))
}

func TestSubjectViewAndValidation(t *testing.T) {
	f := newFixture(t)
	filer := f.as(t, f.filer)
	validator := f.as(t, f.validator)

	rec := serve(filer, submitRequest(t, formFields(f.subject.Account, "4"), []byte("x")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	upper := "/api/subjects/0x" + strings.ToUpper(f.subject.Account[2:]) + "/endorsements"
	rec = serve(filer, httptest.NewRequest(http.MethodGet, upper, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, f.subject.Account, body["subject"])
	assert.Equal(t, false, body["canValidate"])
	records := body["records"].([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, false, records[0].(map[string]interface{})["canValidate"])

	target := "/api/subjects/" + f.subject.Account + "/endorsements"
	rec = serve(validator, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["canValidate"])
	assert.Equal(t, true, body["records"].([]interface{})[0].(map[string]interface{})["canValidate"])

	// A non-validator is stopped by the gate.
	rec = serve(filer, httptest.NewRequest(http.MethodPost, target+"/0/validate", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_authorized", decode(t, rec)["error"])
	assert.Zero(t, f.ledger.Submits("ValidateEndorsement"))

	rec = serve(validator, httptest.NewRequest(http.MethodPost, target+"/0/validate", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result gateway.ValidateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Records, 1)
	assert.True(t, result.Records[0].Validated)

	// Second approval is rejected by the ledger.
	rec = serve(validator, httptest.NewRequest(http.MethodPost, target+"/0/validate", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "ledger_rejected", body["error"])
	assert.Contains(t, body["message"], "already validated")

	// Validated records are no longer actionable.
	rec = serve(validator, httptest.NewRequest(http.MethodGet, target, nil))
	body = decode(t, rec)
	assert.Equal(t, false, body["records"].([]interface{})[0].(map[string]interface{})["canValidate"])

	rec = serve(validator, httptest.NewRequest(http.MethodGet, "/api/subjects/0x1234/endorsements", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchView(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/endorsements?occupation=Teacher", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["records"])

	rec = serve(h, submitRequest(t, formFields(f.subject.Account, "2"), []byte("x")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/endorsements?occupation=Teacher", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Teacher", body["occupation"])
	assert.Len(t, body["records"], 1)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/endorsements", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.ledger.Fail("GetEndorsementsByOccupation", errors.New("peer unavailable"))
	defer f.ledger.Heal()
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/endorsements?occupation=Teacher", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, []interface{}{}, body["records"], "a failed read shows an empty list")
}

func TestValidatorsView(t *testing.T) {
	f := newFixture(t)
	newcomer := ledgertest.MustWallet("newcomer")

	rec := serve(f.as(t, f.filer), httptest.NewRequest(http.MethodGet, "/api/validators", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, f.owner.Account, body["owner"])
	assert.Equal(t, []interface{}{f.validator.Account}, body["validators"])

	grant := `{"account":"` + newcomer.Account + `"}`
	rec = serve(f.as(t, f.validator), jsonRequest(http.MethodPost, "/api/validators", grant))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(f.as(t, f.owner), jsonRequest(http.MethodPost, "/api/validators", `{"account":"nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "account", decode(t, rec)["field"])

	rec = serve(f.as(t, f.owner), jsonRequest(http.MethodPost, "/api/validators", grant))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result gateway.GrantResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.Validators, newcomer.Account)

	f.ledger.Fail("GetValidators", errors.New("peer unavailable"))
	defer f.ledger.Heal()
	rec = serve(f.as(t, f.filer), httptest.NewRequest(http.MethodGet, "/api/validators", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, []interface{}{}, decode(t, rec)["validators"])
}

func TestAccountAndBalances(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	rec := serve(h, submitRequest(t, formFields(f.subject.Account, "2"), []byte("x")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/account", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, f.filer.Account, body["account"])
	assert.Equal(t, false, body["isValidator"])
	assert.Equal(t, false, body["isOwner"])
	assert.Equal(t, "10", body["balance"].(map[string]interface{})["formatted"])

	rec = serve(f.as(t, f.owner), httptest.NewRequest(http.MethodGet, "/api/account", nil))
	body = decode(t, rec)
	assert.Equal(t, true, body["isOwner"])
	assert.Equal(t, true, body["isValidator"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/balances/"+f.subject.Account, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "0", body["formatted"])
	assert.Equal(t, "RGT", body["symbol"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/balances/0xzz", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	h := f.as(t, f.filer)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/endorsements?occupation=Teacher", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_ledger_calls_total")
}
