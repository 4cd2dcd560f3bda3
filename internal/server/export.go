package server

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Presigned export URLs are single-use in spirit; keep them short so shared
// links go stale quickly.
const presignExpiry = 120 * time.Second

// exportTypes maps the allowed export extensions to the Content-Type used
// when streaming a local file.
var exportTypes = map[string]string{
	"db":     "application/vnd.sqlite3",
	"sqlite": "application/vnd.sqlite3",
	"sql":    "application/sql",
}

// Verifier checks a human-verification token for one request.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// ObjectSigner produces a short-lived URL for one export object.
type ObjectSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// TurnstileVerifier validates tokens against the Cloudflare Turnstile
// siteverify endpoint.
type TurnstileVerifier struct {
	client    *resty.Client
	secret    string
	verifyURL string
}

func NewTurnstileVerifier(secret, verifyURL string) *TurnstileVerifier {
	return &TurnstileVerifier{
		client:    resty.New().SetTimeout(10 * time.Second),
		secret:    secret,
		verifyURL: verifyURL,
	}
}

func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"secret":   v.secret,
			"response": token,
			"remoteip": remoteIP,
		}).
		SetResult(&result).
		Post(v.verifyURL)
	if err != nil {
		return false, eris.Wrap(err, "server: turnstile verify")
	}
	if !resp.IsSuccess() {
		return false, eris.Errorf("server: turnstile verify: status %d", resp.StatusCode())
	}
	if !result.Success {
		zap.L().Debug("turnstile rejected token", zap.Strings("codes", result.ErrorCodes))
	}
	return result.Success, nil
}

// S3Signer presigns GET requests against the export bucket.
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
}

func NewS3Signer(ctx context.Context, bucket, region string) (*S3Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "server: load aws config")
	}
	client := s3.NewFromConfig(cfg)
	return &S3Signer{presign: s3.NewPresignClient(client), bucket: bucket}, nil
}

func (s *S3Signer) SignedURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", eris.Wrapf(err, "server: presign %s", key)
	}
	return req.URL, nil
}

// handleExport serves the bulk database exports. The files are expensive to
// serve and a magnet for crawlers, so plain GETs are refused and a POST must
// carry a fresh verification token.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Robots-Tag", "noindex, nofollow, noarchive")

	ext := chi.URLParam(r, "ext")
	if _, ok := exportTypes[ext]; !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("Exports require human verification. POST with a verification token.\n"))
		}
	case http.MethodPost:
		s.serveExport(w, r, ext)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Export failures use plain-text bodies with no internal detail; the flow is
// driven by a plain HTML form, not the JSON API.
func (s *Server) serveExport(w http.ResponseWriter, r *http.Request, ext string) {
	if s.verifier == nil {
		http.Error(w, "exports are not configured", http.StatusServiceUnavailable)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		token = r.PostFormValue("cf-turnstile-response")
	}
	if token == "" {
		http.Error(w, "missing verification token", http.StatusBadRequest)
		return
	}

	ok, err := s.verifier.Verify(r.Context(), token, r.RemoteAddr)
	if err != nil {
		zap.L().Error("export verification errored", zap.Error(err))
		http.Error(w, "verification unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	name := "wvfoia." + ext
	if s.signer != nil {
		url, err := s.signer.SignedURL(r.Context(), s.cfg.Export.ObjectPrefix+name)
		if err != nil {
			zap.L().Error("export presign failed", zap.Error(err))
			http.Error(w, "export temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, url, http.StatusSeeOther)
		return
	}

	// No bucket configured; stream the local file directly.
	w.Header().Set("Content-Type", exportTypes[ext])
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, filepath.Join(s.cfg.Export.LocalDir, name))
}
