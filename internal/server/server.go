package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/whopvoice/internal/fishaudio"
	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/identity"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/plans"
	"github.com/wolfeidau/whopvoice/internal/reconcile"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/telemetry"
	"github.com/wolfeidau/whopvoice/internal/welcome"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// DefaultMaxUploadBytes caps voice sample uploads.
const DefaultMaxUploadBytes = 20 << 20

// Reconciler corrects a creator's plan from the billing platform.
type Reconciler interface {
	Reconcile(ctx context.Context, creator *models.Creator) (reconcile.Result, error)
}

// VoiceModels manages cloned voices.
type VoiceModels interface {
	CreateModel(ctx context.Context, req fishaudio.CreateModelRequest) (*fishaudio.Model, error)
	GetModel(ctx context.Context, modelID string) (*fishaudio.Model, error)
}

// MemberDirectory lists a company's members on the platform.
type MemberDirectory interface {
	ListAllAppMembers(ctx context.Context, companyID string) ([]whop.AppMember, int, error)
}

// Services are the collaborators behind the API.
type Services struct {
	Stores       store.Stores
	Resolver     *identity.Resolver
	Orchestrator *welcome.Orchestrator
	Reconciler   Reconciler
	Voices       VoiceModels
	Members      MemberDirectory
	Catalog      *plans.Catalog
	Metrics      *telemetry.Metrics // optional
}

// Config holds API settings.
type Config struct {
	PublicBaseURL  string
	CORSOrigins    []string
	TrustedOrigins []string // extra origins allowed to send browser POSTs
	MaxUploadBytes int64

	RequestMetrics *httpmiddleware.Metrics // serves /metrics when set
}

// Server serves the HTTP API.
type Server struct {
	Services
	cfg Config
	now func() time.Time
}

// NewServer creates the API server.
func NewServer(svc Services, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if svc.Catalog == nil {
		svc.Catalog = plans.Default()
	}
	return &Server{Services: svc, cfg: cfg, now: time.Now}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler(log zerolog.Logger) (http.Handler, error) {
	api := http.NewServeMux()

	api.HandleFunc("POST /api/validate-access", s.validateAccess)
	api.HandleFunc("GET /api/user", s.currentUser)

	api.HandleFunc("GET /api/admin/creator", s.getCreator)
	api.HandleFunc("POST /api/admin/initialize", s.initialize)
	api.HandleFunc("POST /api/admin/save-settings", s.saveSettings)
	api.HandleFunc("POST /api/admin/toggle-automation", s.toggleAutomation)
	api.HandleFunc("POST /api/admin/reset-onboarding", s.resetOnboarding)
	api.HandleFunc("POST /api/admin/upload-audio", s.uploadAudio)
	api.HandleFunc("GET /api/admin/voice-sample", s.voiceSample)
	api.HandleFunc("GET /api/admin/fish-audio-model-status", s.modelStatus)
	api.HandleFunc("POST /api/admin/trigger-audio", s.triggerAudio)
	api.HandleFunc("POST /api/admin/send-audio-dm", s.sendAudioDM)
	api.HandleFunc("GET /api/admin/customers", s.listCustomers)
	api.HandleFunc("GET /api/admin/all-members", s.allMembers)
	api.HandleFunc("GET /api/admin/analytics", s.analytics)
	api.HandleFunc("GET /api/admin/credits", s.credits)

	api.HandleFunc("GET /api/customer/welcome-status", s.welcomeStatus)
	api.HandleFunc("POST /api/customer/reset-test-status", s.resetTestStatus)
	api.HandleFunc("POST /api/customer/trigger-test-audio", s.triggerTestAudio(testAudioMessage))
	api.HandleFunc("POST /api/customer/trigger-test-video", s.triggerTestAudio(testVideoMessage))

	// CSRF protection for browser routes, with an origin allow list for the
	// Whop iframe proxy.
	protection := csrf.New()
	for _, origin := range s.cfg.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, err
		}
	}

	browser := protection.Handler(gzhttp.GzipHandler(withCORS(s.cfg.CORSOrigins, api)))

	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.RequestMetrics != nil {
		mux.Handle("GET /metrics", s.cfg.RequestMetrics.Handler())
	}

	// Server to server and public routes skip CSRF.
	mux.HandleFunc("POST /api/whop/webhook", s.webhook)
	mux.HandleFunc("GET /api/whop/webhook/test", s.webhookTest)
	mux.Handle("/api/audio/{id}", publicCORS(http.HandlerFunc(s.serveAudio)))

	mux.Handle("/api/", browser)

	mw := []httpmiddleware.Middleware{
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.RequestLogger(log),
		httpmiddleware.Recover(),
	}
	if s.cfg.RequestMetrics != nil {
		mw = append(mw, s.cfg.RequestMetrics.Middleware())
	}
	return httpmiddleware.Chain(mux, mw...), nil
}

// withCORS allows the configured origins to call the API with the user token header.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", whop.UserTokenHeader},
	})
	return middleware.Handler(h)
}

// publicCORS lets any origin fetch audio.
func publicCORS(h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return middleware.Handler(h)
}

func userToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(whop.UserTokenHeader))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
