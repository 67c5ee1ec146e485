package api

import (
	"net/http"

	"github.com/duckmesh/sqlchat/internal/auth"
	"github.com/duckmesh/sqlchat/internal/query"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleChatUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tables := deps.Schema.Tables
	if tables == nil {
		tables = []query.TableInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dialect": deps.Schema.Dialect,
		"tables":  tables,
	})
}
