package interservice

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

func TestSignAndVerify_RoundTrips(t *testing.T) {
	body := []byte(`{"bytes":1024}`)
	req := httptest.NewRequest(http.MethodPost, "/reserve-balance/evm/0xabc", nil)

	require.NoError(t, SignRequest(req, testSecret, body))
	err := Verify(testSecret, req.Method, req.URL.Path, req.Header, body)
	assert.NoError(t, err)
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"bytes":1024}`)
	req := httptest.NewRequest(http.MethodPost, "/reserve-balance/evm/0xabc", nil)
	require.NoError(t, SignRequest(req, testSecret, body))

	err := Verify(testSecret, req.Method, req.URL.Path, req.Header, []byte(`{"bytes":999999}`))
	assert.Error(t, err)
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	body := []byte("{}")
	req := httptest.NewRequest(http.MethodPost, "/check-balance", nil)
	staleTS := time.Now().Add(-time.Hour).Unix()
	sig, err := Sign(testSecret, req.Method, req.URL.Path, staleTS, body)
	require.NoError(t, err)
	req.Header.Set(headerTimestamp, strconv.FormatInt(staleTS, 10))
	req.Header.Set(headerSignature, sig)

	err = Verify(testSecret, req.Method, req.URL.Path, req.Header, body)
	assert.Error(t, err)
}

func TestRequireSignature_AllowsValidRequest(t *testing.T) {
	body := []byte(`{"ok":true}`)
	called := false
	handler := RequireSignature(testSecret, nil, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/check-balance", bytes.NewReader(body))
	require.NoError(t, SignRequest(req, testSecret, body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSignature_RejectsMissingHeaders(t *testing.T) {
	handler := RequireSignature(testSecret, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
	req := httptest.NewRequest(http.MethodPost, "/check-balance", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
