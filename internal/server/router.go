package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/auth"
	"github.com/maelstrand/winetrade/internal/handlers"
	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/models"
	"github.com/maelstrand/winetrade/internal/policy"
	"github.com/maelstrand/winetrade/internal/services"
	"github.com/maelstrand/winetrade/internal/winecheck"
)

// New constructs the root http.Handler with all routes and middlewares
// applied. The winecheck client may be nil (unconfigured environments).
func New(db *gorm.DB, checker winecheck.Client) http.Handler {
	mux := http.NewServeMux()

	// Sessions resolve into a full Actor so handlers and the engine see
	// company and role, never a bare user id.
	auth.SetActorResolver(func(_ context.Context, uid uint) (auth.Actor, bool) {
		var user models.User
		if err := db.Preload("Company").Where("id = ?", uid).First(&user).Error; err != nil {
			return auth.Actor{}, false
		}
		return auth.Actor{UserID: user.ID, CompanyID: user.CompanyID, CompanyKind: user.Company.Kind}, true
	})

	// --- Health endpoints ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSONError(w, http.StatusServiceUnavailable, "degraded", nil)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth endpoints
	authHandler := handlers.NewAuthHandler(db)
	authHandler.Register(mux)

	events := services.NewEventLog(db)
	store := services.NewOfferStore(db, events)
	engine := services.NewAcceptanceEngine(db, events)
	aggregator := services.NewRequestAggregator(db)
	offerPolicy := policy.NewOfferPolicy()
	var enricher *winecheck.Enricher
	if checker != nil {
		enricher = winecheck.NewEnricher(db, checker)
	}

	oh := handlers.NewOfferHandler(db, store, engine, offerPolicy, enricher)
	mux.Handle("/offers", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			oh.List(w, r)
		case http.MethodPost:
			oh.Create(w, r)
		default:
			w.Header().Set("Allow", "GET,POST")
			httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		}
	})))
	mux.Handle("/offers/get", auth.RequireAuth(http.HandlerFunc(oh.Get)))
	mux.Handle("/offers/update", auth.RequireAuth(post(oh.Update)))
	mux.Handle("/offers/lines", auth.RequireAuth(post(oh.Lines)))
	mux.Handle("/offers/lines/delete", auth.RequireAuth(post(oh.DeleteLine)))
	mux.Handle("/offers/lines/check", auth.RequireAuth(post(oh.Enrich)))
	mux.Handle("/offers/send", auth.RequireAuth(post(oh.Send)))
	mux.Handle("/offers/accept", auth.RequireAuth(post(oh.Accept)))
	mux.Handle("/offers/reject", auth.RequireAuth(post(oh.Reject)))
	mux.HandleFunc("/offers/shared", oh.Shared) // token is the credential

	rh := handlers.NewRequestHandler(aggregator)
	mux.Handle("/requests", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rh.List(w, r)
		case http.MethodPost:
			rh.Create(w, r)
		default:
			w.Header().Set("Allow", "GET,POST")
			httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		}
	})))
	mux.Handle("/requests/offers", auth.RequireAuth(http.HandlerFunc(rh.Offers)))

	ch := handlers.NewCatalogHandler(db)
	mux.Handle("/catalog", auth.RequireAuth(http.HandlerFunc(ch.List)))
	mux.Handle("/catalog/import", auth.RequireAuth(post(ch.Import)))

	return auth.Middleware(withRecover(withLogging(mux)))
}

func post(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
			return
		}
		h(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.WithField("panic", rec).Error("handler panic")
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
