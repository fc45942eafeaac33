package httpapi

import (
	"errors"
	"net/http"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/service/auth"
)

// POST /api/auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.auth.Register(r.Context(), auth.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("user registered", "req_id", reqID(r), "user_id", res.User.ID)
	writeData(w, http.StatusCreated, toAuthResponse(res))
}

// POST /api/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthenticated) {
			authFailures.WithLabelValues("login").Inc()
		}
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toAuthResponse(res))
}

// POST /api/auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthenticated) {
			authFailures.WithLabelValues("refresh").Inc()
		}
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTokensResponse(pair))
}

// POST /api/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// POST /api/auth/change-password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.auth.ChangePassword(r.Context(), identity(r).UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthenticated) {
			authFailures.WithLabelValues("change_password").Inc()
		}
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTokensResponse(pair))
}

// GET /api/auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, bal, err := s.auth.Me(r.Context(), identity(r).UserID)
	if errors.Is(err, errs.ErrNotFound) {
		// The token outlived its user.
		s.writeError(w, r, errs.Unauthenticated("user no longer exists"))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, meResponse{User: toUserResponse(user), Balance: toBalanceResponse(bal)})
}
