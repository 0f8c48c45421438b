package dispatcher

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
)

const testGSURI = "gs://cfg-bucket/client.json"

func signedTestURL(host, path, algo string) string {
	u := "https://" + host + path + "?X-Goog-Algorithm=" + algo +
		"&X-Goog-Credential=svc%40proj.iam.gserviceaccount.com%2F20260824%2Fauto%2Fstorage%2Fgoog4_request" +
		"&X-Goog-Date=20260824T000000Z&X-Goog-Expires=3600&X-Goog-SignedHeaders=host&X-Goog-Signature=abc"
	return u
}

func TestValidateSignedURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		gsURI   string
		wantErr bool
	}{
		{
			name:  "canonical host and exact path",
			url:   signedTestURL("storage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI: testGSURI,
		},
		{
			name:  "regional storage subdomain",
			url:   signedTestURL("storage.asia-northeast1.storage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI: testGSURI,
		},
		{
			name:    "http scheme rejected",
			url:     "http://storage.googleapis.com/cfg-bucket/client.json?X-Goog-Algorithm=" + signedURLAlgo,
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "foreign host rejected",
			url:     signedTestURL("attacker.example.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "host suffix without dot boundary rejected",
			url:     signedTestURL("evilstorage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "wrong bucket rejected",
			url:     signedTestURL("storage.googleapis.com", "/other-bucket/client.json", signedURLAlgo),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "wrong object rejected",
			url:     signedTestURL("storage.googleapis.com", "/cfg-bucket/other.json", signedURLAlgo),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "path traversal rejected",
			url:     signedTestURL("storage.googleapis.com", "/cfg-bucket/../cfg-bucket/client.json", signedURLAlgo),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "wrong signing algorithm rejected",
			url:     signedTestURL("storage.googleapis.com", "/cfg-bucket/client.json", "AWS4-HMAC-SHA256"),
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "missing algorithm rejected",
			url:     "https://storage.googleapis.com/cfg-bucket/client.json?X-Goog-Date=20260824T000000Z",
			gsURI:   testGSURI,
			wantErr: true,
		},
		{
			name:    "declared uri must be gs scheme",
			url:     signedTestURL("storage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI:   "s3://cfg-bucket/client.json",
			wantErr: true,
		},
		{
			name:    "declared uri missing object",
			url:     signedTestURL("storage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo),
			gsURI:   "gs://cfg-bucket",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignedURL(tt.url, tt.gsURI)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSignedURLPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseGSURI(t *testing.T) {
	bucket, object, err := ParseGSURI("gs://cfg-bucket/nested/client.json")
	require.NoError(t, err)
	assert.Equal(t, "cfg-bucket", bucket)
	assert.Equal(t, "nested/client.json", object)

	_, _, err = ParseGSURI("gs:///client.json")
	assert.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	expiry, err := signedURLExpiry(signedTestURL("storage.googleapis.com", "/cfg-bucket/client.json", signedURLAlgo))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC), expiry.UTC())
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Signer{
		email:            "svc@proj.iam.gserviceaccount.com",
		key:              key,
		ttl:              24 * time.Hour,
		refreshThreshold: time.Hour,
		http:             &http.Client{Timeout: preflightTimeout},
		logger:           common.GetLogger(),
		now:              time.Now,
	}
}

func TestSignURLPassesOwnPolicy(t *testing.T) {
	s := newTestSigner(t)
	signed, err := s.SignURL(testGSURI, 2*time.Hour)
	require.NoError(t, err)

	assert.NoError(t, ValidateSignedURL(signed, testGSURI))

	expiry, err := signedURLExpiry(signed)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), expiry, time.Minute)
}

func TestSignURLRejectsBadGSURI(t *testing.T) {
	s := newTestSigner(t)
	_, err := s.SignURL("s3://cfg-bucket/client.json", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignedURLPolicy)
}

func TestEnsureFreshRejectsBadGSURI(t *testing.T) {
	s := newTestSigner(t)
	_, err := s.EnsureFresh(context.Background(),
		"https://storage.googleapis.com/cfg-bucket/client.json", "not-a-gs-uri", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignedURLPolicy)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestEnsureFreshResignsInvalidURL(t *testing.T) {
	s := newTestSigner(t)
	fresh, err := s.EnsureFresh(context.Background(),
		"https://attacker.example.com/cfg-bucket/client.json", testGSURI, 0, 0)
	require.NoError(t, err)
	assert.NoError(t, ValidateSignedURL(fresh, testGSURI))
}

func TestEnsureFreshResignsNearExpiry(t *testing.T) {
	s := newTestSigner(t)
	expiring, err := s.SignURL(testGSURI, 90*time.Minute)
	require.NoError(t, err)

	// Threshold of 2h makes a 90-minute URL stale.
	fresh, err := s.EnsureFresh(context.Background(), expiring, testGSURI, 0, 2*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, expiring, fresh)

	expiry, err := signedURLExpiry(fresh)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiry, time.Minute)
}

func TestEnsureFreshKeepsHealthyURL(t *testing.T) {
	s := newTestSigner(t)
	s.http = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodHead, r.Method)
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	healthy, err := s.SignURL(testGSURI, 12*time.Hour)
	require.NoError(t, err)

	got, err := s.EnsureFresh(context.Background(), healthy, testGSURI, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, healthy, got)
}

func TestEnsureFreshResignsOnFailedPreflight(t *testing.T) {
	s := newTestSigner(t)
	s.http = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusForbidden, Body: http.NoBody}, nil
	})}

	stale, err := s.SignURL(testGSURI, 12*time.Hour)
	require.NoError(t, err)

	got, err := s.EnsureFresh(context.Background(), stale, testGSURI, 0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, stale, got)
}
