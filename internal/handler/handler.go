package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-playground/validator/v10"
)

func handleError(w http.ResponseWriter, err error) {
	apiErr, ok := apperrors.As(err)
	if !ok {
		slog.Error("unhandled error", "error", err)
		utils.InternalError(w, "internal server error")
		return
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		slog.Error("request failed", "code", apiErr.Code, "error", err)
	}
	utils.Error(w, apiErr)
}

// decodeBody reads and validates a JSON body, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, validate *validator.Validate, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.BadRequest(w, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		utils.BadRequest(w, err.Error())
		return false
	}
	return true
}

// pageParams reads ?page= and ?page_size=; the services clamp them.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, pageSize
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func rideIDParam(w http.ResponseWriter, id string) bool {
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid ride id")
		return false
	}
	return true
}
