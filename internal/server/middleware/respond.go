package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iudanet/gophchat/pkg/api"
)

func writeError(w http.ResponseWriter, status int, body api.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
