package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/utils"
)

// listConversationsHandler serves the sidebar over plain HTTP for
// clients that want history without opening a websocket.
func (d Deps) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	convs, err := d.Store.ListConversations(claims.Subject)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (d Deps) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	convID := mux.Vars(r)["id"]
	msgs, err := d.Store.ListMessages(claims.Subject, convID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"messages":        msgs,
	})
}
