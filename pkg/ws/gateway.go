package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/logger"
)

// Handler upgrades GET /ws/chat requests and spawns a session actor
// per connection. allowedOrigins follows the gateway's CORS list; "*"
// admits any origin, an empty list admits only same-host requests.
func Handler(deps *Deps, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowedOrigins {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			// fall back to the default same-host rule
			return strings.EqualFold(stripScheme(origin), r.Host)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response
			logger.Warn("upgrade_failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		queryToken := r.URL.Query().Get("token")
		go Serve(deps, conn, queryToken)
	}
}

func stripScheme(origin string) string {
	origin = strings.TrimPrefix(origin, "https://")
	origin = strings.TrimPrefix(origin, "http://")
	return origin
}
