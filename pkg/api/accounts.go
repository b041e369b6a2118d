package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/userdb"
	"chatrelay/pkg/utils"
)

type credentialsRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type accountResponse struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	IsAdmin bool     `json:"is_admin"`
	IsUser  bool     `json:"is_user"`
}

type loginResponse struct {
	Token string          `json:"token"`
	User  accountResponse `json:"user"`
}

func publicAccount(u userdb.User) accountResponse {
	return accountResponse{
		UserID:  u.UserID,
		Email:   u.Email,
		Roles:   u.Roles,
		IsAdmin: u.IsAdmin,
		IsUser:  u.IsUser,
	}
}

func (d Deps) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	usr, err := d.Users.Register(req.Email, req.Password, req.Roles)
	if errors.Is(err, userdb.ErrExists) {
		utils.JSONError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		logger.Warn("register_failed", "email", req.Email, "err", err)
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusCreated, publicAccount(usr))
}

func (d Deps) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	usr, err := d.Users.Authenticate(req.Email, req.Password)
	if err != nil {
		utils.JSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := d.Verifier.Issue(usr)
	if err != nil {
		logger.Error("token_issue_failed", "user_id", usr.UserID, "err", err)
		utils.JSONError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	utils.JSONWrite(w, http.StatusOK, loginResponse{Token: token, User: publicAccount(usr)})
}
