package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"goatify/internal/ai"
	"goatify/internal/config"
	"goatify/internal/models"
	"goatify/internal/paypal"
	"goatify/internal/push"
	"goatify/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	svc    *services.Service
	cfg    config.Config
	paypal *paypal.Client
	ai     *ai.Client
	push   *push.Sender
}

// NewServer wires the handlers. paypalClient may be nil when PayPal is not
// configured; the subscription endpoints then answer 503.
func NewServer(svc *services.Service, cfg config.Config, paypalClient *paypal.Client, aiClient *ai.Client, pushSender *push.Sender) *Server {
	return &Server{svc: svc, cfg: cfg, paypal: paypalClient, ai: aiClient, push: pushSender}
}

func loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				reqID := middleware.GetReqID(r.Context())
				log.Printf("[ERROR] [%s] Panic recovered in %s %s: %v\n%s",
					reqID, r.Method, r.URL.Path, rvr, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			reqID := middleware.GetReqID(r.Context())
			log.Printf("[%s] %s %s %d %s",
				reqID, r.Method, r.URL.Path, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingRecoverer)
	r.Use(requestLogger)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Provider-facing endpoint, authenticated by webhook signature.
		r.Post("/webhooks/paypal", s.handlePayPalWebhook)

		// User endpoints, authenticated by the identity provider's token.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/usage", s.handleGetUsage)
			r.Post("/usage", s.handleUpdateUsage)

			r.Post("/chat", s.handleChat)
			r.Post("/images", s.handleGenerateImage)

			r.Post("/subscriptions", s.handleCreateSubscription)

			r.Get("/chats", s.handleLoadChats)
			r.Put("/chats", s.handleSaveChats)

			r.Post("/push/subscription", s.handleSavePushSubscription)

			r.Get("/diagnostics", s.handleDiagnostics)
		})

		// Service-to-service endpoints (X-API-Key).
		r.Route("/internal", func(r chi.Router) {
			r.Use(s.internalAPIKeyMiddleware)

			r.Post("/push/send", s.handleSendPush)
		})
	})

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) internalAPIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.InternalAPIKey == "" {
			respondError(w, http.StatusServiceUnavailable, errors.New("internal API key not configured"))
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, errors.New("missing X-API-Key header"))
			return
		}
		if apiKey != s.cfg.InternalAPIKey {
			respondError(w, http.StatusUnauthorized, errors.New("invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Usage façade ==========

func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	account, err := s.svc.GetUsage(r.Context(), userID, emailFromContext(r.Context()), time.Now())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"credits": account.Credits,
		"plan":    account.Plan,
	})
}

type updateUsageRequest struct {
	Delta *int `json:"delta"`
}

func (s *Server) handleUpdateUsage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req updateUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Delta == nil || *req.Delta == 0 {
		respondError(w, http.StatusBadRequest, errors.New("delta must be a non-zero integer"))
		return
	}
	if err := s.svc.ProvisionAccount(r.Context(), userID, emailFromContext(r.Context())); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	reason := models.LedgerAdjustment
	if *req.Delta < 0 {
		reason = models.LedgerUsage
	}
	balance, err := s.svc.AdjustCredits(r.Context(), userID, *req.Delta, reason, middleware.GetReqID(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

// ========== AI proxy ==========

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req ai.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" || req.Model == "" {
		respondError(w, http.StatusBadRequest, errors.New("prompt and model are required"))
		return
	}

	account, err := s.svc.GetUsage(r.Context(), userID, emailFromContext(r.Context()), time.Now())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	// The frontend debits through POST /usage around each call; this guard
	// just refuses to burn provider quota for an empty balance.
	if account.Credits < s.cfg.ChatCostCredits {
		s.respondServiceError(w, r, services.ErrInsufficientCredits)
		return
	}

	reply, err := s.ai.Reply(r.Context(), req)
	if err != nil {
		s.respondProviderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	account, err := s.svc.GetUsage(r.Context(), userID, emailFromContext(r.Context()), time.Now())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if account.Credits < s.cfg.ChatCostCredits {
		s.respondServiceError(w, r, services.ErrInsufficientCredits)
		return
	}

	imageData, err := s.ai.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		s.respondProviderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"image_data": imageData})
}

// ========== Subscriptions ==========

type createSubscriptionRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.paypal == nil {
		s.respondServiceError(w, r, services.ErrPayPalNotConfigured)
		return
	}
	userID := userIDFromContext(r.Context())
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Plan == "" {
		req.Plan = models.PlanBoost
	}
	planID, err := s.paypalPlanID(req.Plan)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := s.svc.ProvisionAccount(r.Context(), userID, emailFromContext(r.Context())); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	created, err := s.paypal.CreateSubscription(r.Context(), paypal.CreateSubscriptionParams{
		PlanID:    planID,
		CustomID:  userID,
		Email:     emailFromContext(r.Context()),
		BrandName: s.cfg.BrandName,
		ReturnURL: s.cfg.SubscribeReturnURL,
		CancelURL: s.cfg.SubscribeCancelURL,
	})
	if err != nil {
		reqID := middleware.GetReqID(r.Context())
		log.Printf("[ERROR] [%s] PayPal subscription create failed: %v", reqID, err)
		respondError(w, http.StatusBadGateway, errors.New("payment provider rejected the request"))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"subscription_id": created.ID,
		"approval_url":    created.ApprovalURL,
	})
}

func (s *Server) paypalPlanID(plan string) (string, error) {
	switch plan {
	case models.PlanBoost:
		if s.cfg.PayPalBoostPlanID == "" {
			return "", fmt.Errorf("%w: boost plan id not set", services.ErrPayPalNotConfigured)
		}
		return s.cfg.PayPalBoostPlanID, nil
	case models.PlanPro:
		if s.cfg.PayPalProPlanID == "" {
			return "", fmt.Errorf("%w: pro plan id not set", services.ErrPayPalNotConfigured)
		}
		return s.cfg.PayPalProPlanID, nil
	default:
		return "", fmt.Errorf("%w: %q", services.ErrUnknownPlan, plan)
	}
}

// handlePayPalWebhook acknowledges every event once it is durably logged.
// Reconciliation failures are logged and alerted on, never surfaced to the
// provider, so at-least-once redelivery cannot turn into a storm.
func (s *Server) handlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if s.paypal != nil && s.cfg.PayPalWebhookID != "" {
		r.Body = io.NopCloser(bytes.NewReader(payload))
		if err := s.paypal.VerifyWebhook(r.Context(), r, s.cfg.PayPalWebhookID); err != nil {
			log.Printf("[ERROR] [%s] webhook signature rejected: %v", reqID, err)
			respondError(w, http.StatusBadRequest, errors.New("webhook signature verification failed"))
			return
		}
	}

	record, err := s.svc.ApplySubscriptionEvent(r.Context(), payload)
	if err != nil {
		// Nothing was recorded; a 500 makes the provider redeliver.
		log.Printf("[ERROR] [%s] webhook processing failed: %v", reqID, err)
		respondError(w, http.StatusInternalServerError, errors.New("event processing failed"))
		return
	}
	switch record.Outcome {
	case models.EventOutcomeApplied:
		log.Printf("[INFO] [%s] webhook %s %s: %s", reqID, record.EventType, record.SubscriptionID, record.Detail)
	case models.EventOutcomeIgnored:
		log.Printf("[INFO] [%s] webhook %s ignored: %s", reqID, record.EventType, record.Detail)
	default:
		log.Printf("[WARN] [%s] webhook %s %s: %s", reqID, record.EventType, record.Outcome, record.Detail)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ========== Chat history ==========

func (s *Server) handleLoadChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.svc.LoadChats(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chats)
}

type saveChatsRequest struct {
	Chats json.RawMessage `json:"chats"`
}

func (s *Server) handleSaveChats(w http.ResponseWriter, r *http.Request) {
	var req saveChatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Chats) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("chats is required"))
		return
	}
	if err := s.svc.SaveChats(r.Context(), userIDFromContext(r.Context()), req.Chats); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ========== Web push ==========

type savePushSubscriptionRequest struct {
	Subscription json.RawMessage `json:"subscription"`
}

func (s *Server) handleSavePushSubscription(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req savePushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Subscription) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("subscription is required"))
		return
	}
	if err := s.svc.ProvisionAccount(r.Context(), userID, emailFromContext(r.Context())); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := s.svc.SavePushSubscription(r.Context(), userID, req.Subscription); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendPushRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (s *Server) handleSendPush(w http.ResponseWriter, r *http.Request) {
	var req sendPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	if req.Title == "" {
		req.Title = s.cfg.BrandName
	}
	if req.Body == "" {
		req.Body = "¡Tienes una nueva notificación!"
	}

	subscription, err := s.svc.GetPushSubscription(r.Context(), req.UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := s.push.Send(subscription, req.Title, req.Body); err != nil {
		if errors.Is(err, push.ErrSubscriptionGone) {
			// Drop the dead subscription so the next send does not retry it.
			if clearErr := s.svc.ClearPushSubscription(r.Context(), req.UserID); clearErr != nil {
				log.Printf("[ERROR] clear push subscription for %s: %v", req.UserID, clearErr)
			}
			respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondProviderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ========== Diagnostics ==========

type diagnosticResult struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	results := map[string]diagnosticResult{}

	if err := s.svc.Ping(r.Context()); err != nil {
		results["database"] = diagnosticResult{Status: "FAILURE", Detail: err.Error()}
	} else {
		results["database"] = diagnosticResult{Status: "SUCCESS", Detail: "database roundtrip ok"}
	}

	switch {
	case s.paypal == nil:
		results["paypal"] = diagnosticResult{Status: "SKIPPED", Detail: "paypal not configured"}
	default:
		if err := s.paypal.Ping(r.Context()); err != nil {
			results["paypal"] = diagnosticResult{Status: "FAILURE", Detail: err.Error()}
		} else {
			results["paypal"] = diagnosticResult{Status: "SUCCESS", Detail: "oauth token obtained"}
		}
	}

	respondJSON(w, http.StatusOK, results)
}

// ========== Error mapping ==========

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, services.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrInsufficientCredits):
		respondError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, services.ErrUnknownPlan):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrPayPalNotConfigured):
		respondError(w, http.StatusServiceUnavailable, err)
	default:
		reqID := middleware.GetReqID(r.Context())
		log.Printf("[ERROR] [%s] %s %s: %v", reqID, r.Method, r.URL.Path, err)
		respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

// respondProviderError maps failures of outbound provider calls. Their
// details go to the log, not to the client.
func (s *Server) respondProviderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, push.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, err)
	default:
		reqID := middleware.GetReqID(r.Context())
		log.Printf("[ERROR] [%s] provider call failed in %s %s: %v", reqID, r.Method, r.URL.Path, err)
		respondError(w, http.StatusBadGateway, errors.New("upstream provider error"))
	}
}
