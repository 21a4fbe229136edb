package devserver

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createUserRequest struct {
	Username    string   `json:"username" validate:"required"`
	Password    string   `json:"password" validate:"required,min=8,max=128"`
	FullName    string   `json:"fullName"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions" validate:"dive,required"`
	Roles       []string `json:"roles" validate:"dive,required"`
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.AddUser(SeedUser(req))
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, "user exists")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeOK(w, u)
	}
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
	Roles       []string `json:"roles" validate:"dive,required"`
	Reason      string   `json:"reason"`
}

func (s *Server) handleAdminPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req permissionsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.UpdatePermissions(id, req.Permissions, req.Roles, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeOK(w, nil)
}

type notifyRequest struct {
	Title   string `json:"title" validate:"required"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleAdminNotify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req notifyRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.Notify(id, req.Title, req.Message, req.Type)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeOK(w, n)
}

func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, s.Broadcast(req.Title, req.Message, req.Type))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := revokeRequest{Reason: "admin"}
	if r.ContentLength > 0 && !readJSON(w, r, &req) {
		return
	}
	if err := s.RevokeSession(id, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeOK(w, nil)
}
