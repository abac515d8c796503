package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/and161185/memgate/internal/authctx"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
	"github.com/and161185/memgate/internal/service"
)

type knockRequest struct {
	Device model.DeviceDescriptor `json:"device"`
}

type knockResponse struct {
	Challenge string `json:"challenge"`
	ExpiresIn int    `json:"expires_in"`
	Message   string `json:"message"`
}

type exchangeRequest struct {
	Challenge  string                  `json:"challenge"`
	Passphrase string                  `json:"passphrase"`
	Device     *model.DeviceDescriptor `json:"device,omitempty"`
	UserID     string                  `json:"user_id,omitempty"`
}

type exchangeResponse struct {
	Success        bool      `json:"success"`
	APIKey         string    `json:"api_key"`
	DeviceID       string    `json:"device_id"`
	User           string    `json:"user"`
	IssuedAt       time.Time `json:"issued_at"`
	RevokeEndpoint string    `json:"revoke_endpoint"`
}

type registerRequest struct {
	UserID      string `json:"user_id"`
	Passphrase  string `json:"passphrase"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type registerResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type deviceView struct {
	DeviceID string    `json:"device_id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
	LastUsed time.Time `json:"last_used"`
	Active   bool      `json:"active"`
}

type devicesResponse struct {
	User    string       `json:"user"`
	Devices []deviceView `json:"devices"`
}

type revokeRequest struct {
	DeviceID string `json:"device_id"`
}

type verifyRequest struct {
	Sample string `json:"sample"`
}

type verifyResponse struct {
	Verified      bool    `json:"verified"`
	UserID        string  `json:"userId,omitempty"`
	Confidence    float64 `json:"confidence"`
	RecoveryToken string  `json:"recoveryToken,omitempty"`
}

type resetRequest struct {
	UserID        string `json:"userId"`
	NewPassphrase string `json:"newPassphrase"`
	RecoveryToken string `json:"recoveryToken,omitempty"`
}

type baselineRequest struct {
	Samples []string `json:"samples"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) knock(w http.ResponseWriter, r *http.Request) {
	var req knockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.auth.Knock(r.Context(), req.Device)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, knockResponse{
		Challenge: c.ID,
		ExpiresIn: int(s.auth.ChallengeTTL().Seconds()),
		Message:   "Send the challenge with your passphrase to POST /auth/exchange",
	})
}

func (s *Server) exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cred, err := s.auth.Exchange(r.Context(), service.ExchangeRequest{
		ChallengeID: req.Challenge,
		Passphrase:  req.Passphrase,
		OwnerID:     req.UserID,
		Device:      req.Device,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.ExchangesTotal.Inc()

	http.SetCookie(w, &http.Cookie{
		Name:     authctx.CookieName,
		Value:    cred.APIKey,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, exchangeResponse{
		Success:        true,
		APIKey:         cred.APIKey,
		DeviceID:       cred.DeviceID,
		User:           cred.OwnerID,
		IssuedAt:       cred.IssuedAt,
		RevokeEndpoint: "/auth/revoke",
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.auth.Register(r.Context(), service.RegisterRequest{
		OwnerID:     req.UserID,
		Passphrase:  req.Passphrase,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		s.writeError(w, r, err)
		return
	}
	s.metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:      o.ID,
		Email:       o.Email,
		DisplayName: o.DisplayName,
		CreatedAt:   o.CreatedAt,
	})
}

func (s *Server) devices(w http.ResponseWriter, r *http.Request) {
	a, _ := authctx.FromContext(r.Context())
	list, err := s.auth.ListDevices(r.Context(), a.OwnerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := devicesResponse{User: a.OwnerID, Devices: make([]deviceView, 0, len(list))}
	for _, d := range list {
		out.Devices = append(out.Devices, deviceView{
			DeviceID: d.DeviceID,
			Type:     d.Device.Type,
			Name:     d.Device.Name,
			IssuedAt: d.IssuedAt,
			LastUsed: d.LastUsed,
			Active:   d.Active(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, _ := authctx.FromContext(r.Context())
	if err := s.auth.Revoke(r.Context(), a.OwnerID, req.DeviceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": req.DeviceID})
}

func (s *Server) verifyStylometry(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.recovery.Verify(r.Context(), req.Sample)
	var nr *errs.NotRecognizedError
	switch {
	case errors.As(err, &nr):
		s.metrics.RecoveriesTotal.WithLabelValues("verify", "rejected").Inc()
		s.metrics.Reject(errs.ErrNotRecognized.Error())
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Verified: false, Confidence: nr.Confidence})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecoveriesTotal.WithLabelValues("verify", "ok").Inc()
	writeJSON(w, http.StatusOK, verifyResponse{
		Verified:      true,
		UserID:        res.OwnerID,
		Confidence:    res.Confidence,
		RecoveryToken: res.Token,
	})
}

func (s *Server) resetPassphrase(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var caller *authctx.Auth
	if a, ok := authctx.FromContext(r.Context()); ok {
		caller = &a
	}
	err := s.recovery.Reset(r.Context(), service.ResetRequest{
		OwnerID:       req.UserID,
		NewPassphrase: req.NewPassphrase,
		RecoveryToken: req.RecoveryToken,
	}, caller)
	if err != nil {
		s.metrics.RecoveriesTotal.WithLabelValues("reset", "rejected").Inc()
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecoveriesTotal.WithLabelValues("reset", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) baseline(w http.ResponseWriter, r *http.Request) {
	var req baselineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, _ := authctx.FromContext(r.Context())
	p, err := s.recovery.Baseline(r.Context(), a.OwnerID, req.Samples)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": p.OwnerID, "sample_count": p.SampleCount})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	a, _ := authctx.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"user": a.OwnerID, "device_id": a.DeviceID})
}
