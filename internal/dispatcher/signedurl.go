package dispatcher

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2/google"

	"github.com/mitto-dev/mitto/internal/common"
)

const (
	storageHostSuffix = "storage.googleapis.com"
	signedURLAlgo     = "GOOG4-RSA-SHA256"
	preflightTimeout  = 10 * time.Second
)

// ErrSignedURLPolicy is wrapped by every signed-URL rejection.
var ErrSignedURLPolicy = errors.New("signed url policy violation")

// ParseGSURI splits gs://bucket/object into its parts.
func ParseGSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri missing bucket or object: %q", uri)
	}
	return bucket, object, nil
}

// ValidateSignedURL accepts only V4 URLs that point at the declared
// gs://bucket/object through the canonical storage host.
func ValidateSignedURL(raw, gsURI string) error {
	bucket, object, err := ParseGSURI(gsURI)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignedURLPolicy, err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: unparseable url", ErrSignedURLPolicy)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https", ErrSignedURLPolicy)
	}
	host := strings.ToLower(u.Hostname())
	if host != storageHostSuffix && !strings.HasSuffix(host, "."+storageHostSuffix) {
		return fmt.Errorf("%w: host %q is not a storage host", ErrSignedURLPolicy, host)
	}
	wantPath := "/" + bucket + "/" + object
	if u.Path != wantPath {
		return fmt.Errorf("%w: path %q does not match %q", ErrSignedURLPolicy, u.Path, wantPath)
	}
	if u.Query().Get("X-Goog-Algorithm") != signedURLAlgo {
		return fmt.Errorf("%w: missing or wrong X-Goog-Algorithm", ErrSignedURLPolicy)
	}
	return nil
}

// signedURLExpiry decodes X-Goog-Date + X-Goog-Expires into an expiry time.
func signedURLExpiry(raw string) (time.Time, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	q := u.Query()
	signedAt, err := time.Parse("20060102T150405Z", q.Get("X-Goog-Date"))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad X-Goog-Date: %w", err)
	}
	expires, err := strconv.Atoi(q.Get("X-Goog-Expires"))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad X-Goog-Expires: %w", err)
	}
	return signedAt.Add(time.Duration(expires) * time.Second), nil
}

// Signer produces and refreshes V4 signed URLs for config objects.
type Signer struct {
	email            string
	key              *rsa.PrivateKey
	ttl              time.Duration
	refreshThreshold time.Duration
	http             *http.Client
	logger           arbor.ILogger
	now              func() time.Time
}

// NewSigner loads the service-account key file and builds a signer with the
// configured TTL policy. TTL is clamped to at least one hour.
func NewSigner(cfg common.SignedURLConfig, logger arbor.ILogger) (*Signer, error) {
	data, err := os.ReadFile(cfg.ServiceAccountKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	block, _ := pem.Decode(jwtCfg.PrivateKey)
	if block == nil {
		return nil, fmt.Errorf("service account key has no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("service account key is not RSA")
	}

	ttlHours := cfg.TTLHours
	if ttlHours < 1 {
		ttlHours = 1
	}
	threshold := time.Duration(cfg.RefreshThresholdSeconds) * time.Second
	if threshold <= 0 {
		threshold = time.Hour
	}
	return &Signer{
		email:            jwtCfg.Email,
		key:              rsaKey,
		ttl:              time.Duration(ttlHours) * time.Hour,
		refreshThreshold: threshold,
		http:             &http.Client{Timeout: preflightTimeout},
		logger:           logger,
		now:              time.Now,
	}, nil
}

// SignURL produces a V4 signed GET URL for gs://bucket/object.
func (s *Signer) SignURL(gsURI string, ttl time.Duration) (string, error) {
	bucket, object, err := ParseGSURI(gsURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignedURLPolicy, err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now().UTC()
	timestamp := now.Format("20060102T150405Z")
	scope := now.Format("20060102") + "/auto/storage/goog4_request"
	path := "/" + bucket + "/" + object

	query := url.Values{}
	query.Set("X-Goog-Algorithm", signedURLAlgo)
	query.Set("X-Goog-Credential", s.email+"/"+scope)
	query.Set("X-Goog-Date", timestamp)
	query.Set("X-Goog-Expires", strconv.Itoa(int(ttl.Seconds())))
	query.Set("X-Goog-SignedHeaders", "host")

	canonicalQuery := canonicalQueryString(query)
	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		path,
		canonicalQuery,
		"host:" + storageHostSuffix,
		"",
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")

	crSum := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		signedURLAlgo,
		timestamp,
		scope,
		hex.EncodeToString(crSum[:]),
	}, "\n")

	sum := sha256.Sum256([]byte(stringToSign))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	return fmt.Sprintf("https://%s%s?%s&X-Goog-Signature=%s",
		storageHostSuffix, path, canonicalQuery, hex.EncodeToString(sig)), nil
}

// EnsureFresh validates the existing URL, pre-flights it with HEAD, and
// re-signs when the preflight fails or expiry is within the threshold.
// ttlOverride and thresholdOverride of zero use the signer policy.
func (s *Signer) EnsureFresh(ctx context.Context, raw, gsURI string, ttlOverride, thresholdOverride time.Duration) (string, error) {
	threshold := s.refreshThreshold
	if thresholdOverride > 0 {
		threshold = thresholdOverride
	}

	needsResign := false
	if err := ValidateSignedURL(raw, gsURI); err != nil {
		s.logger.Debug().Err(err).Msg("Signed URL failed validation, re-signing")
		needsResign = true
	}
	if !needsResign {
		if expiry, err := signedURLExpiry(raw); err != nil || expiry.Sub(s.now()) <= threshold {
			needsResign = true
		}
	}
	if !needsResign && !s.preflight(ctx, raw) {
		needsResign = true
	}
	if !needsResign {
		return raw, nil
	}
	return s.SignURL(gsURI, ttlOverride)
}

// preflight HEADs the URL; anything >= 400 fails it.
func (s *Signer) preflight(ctx context.Context, raw string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, raw, nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

func canonicalQueryString(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q.Get(k)))
	}
	return strings.Join(parts, "&")
}
