package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	ok    bool
	err   error
	token string
}

func (f *fakeVerifier) Verify(_ context.Context, token, _ string) (bool, error) {
	f.token = token
	return f.ok, f.err
}

type fakeSigner struct {
	key string
}

func (f *fakeSigner) SignedURL(_ context.Context, key string) (string, error) {
	f.key = key
	return "https://exports.example.com/" + key + "?signature=abc", nil
}

func postExport(t *testing.T, ts *testServer, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if token != "" {
		form.Set("token", token)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func TestExport_GetRefused(t *testing.T) {
	ts := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req := httptest.NewRequest(method, "/wvfoia.db", nil)
		rec := httptest.NewRecorder()
		ts.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, method)
		assert.Equal(t, "noindex, nofollow, noarchive", rec.Header().Get("X-Robots-Tag"), method)
	}
}

func TestExport_UnknownExtension(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/wvfoia.zip")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "noindex, nofollow, noarchive", rec.Header().Get("X-Robots-Tag"))
}

func TestExport_MissingToken(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = &fakeVerifier{ok: true}

	rec := postExport(t, ts, "/wvfoia.db", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport_VerificationFailed(t *testing.T) {
	ts := newTestServer(t)
	verifier := &fakeVerifier{ok: false}
	ts.verifier = verifier

	rec := postExport(t, ts, "/wvfoia.db", "bad-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "bad-token", verifier.token)
}

func TestExport_VerifierError(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = &fakeVerifier{err: eris.New("siteverify unreachable")}

	rec := postExport(t, ts, "/wvfoia.db", "any")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExport_PresignedRedirect(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = &fakeVerifier{ok: true}
	signer := &fakeSigner{}
	ts.signer = signer

	rec := postExport(t, ts, "/wvfoia.sql", "good-token")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "exports/wvfoia.sql", signer.key)
	assert.Contains(t, rec.Header().Get("Location"), "exports/wvfoia.sql")
	assert.Equal(t, "noindex, nofollow, noarchive", rec.Header().Get("X-Robots-Tag"))
}

func TestExport_LocalStream(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = &fakeVerifier{ok: true}

	path := filepath.Join(ts.cfg.Export.LocalDir, "wvfoia.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("sqlite payload"), 0o644))

	rec := postExport(t, ts, "/wvfoia.sqlite", "good-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.sqlite3", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="wvfoia.sqlite"`)
	assert.Equal(t, "sqlite payload", rec.Body.String())
}

func TestExport_NotConfigured(t *testing.T) {
	ts := newTestServer(t)

	rec := postExport(t, ts, "/wvfoia.db", "token")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
