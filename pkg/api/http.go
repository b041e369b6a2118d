// Package api provides the HTTP surface next to the websocket: account
// registration and login, and token-gated read endpoints over the
// conversation store.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/store"
	"chatrelay/pkg/userdb"
)

// Deps are the services the HTTP handlers consume.
type Deps struct {
	Users    *userdb.DB
	Verifier *auth.Verifier
	Store    *store.Store
}

// Router builds the /v1 route table.
func Router(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/auth/register", d.registerHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/login", d.loginHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations", d.listConversationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", d.listMessagesHandler).Methods(http.MethodGet)
	return r
}
