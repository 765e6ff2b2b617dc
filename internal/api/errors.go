package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	"postkeeper/internal/model"
)

type errorBody struct {
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP. Remote failures are checked
// before not-found so an upstream 404 on a listing reads as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRemote):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		glog.Errorf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	case status == http.StatusBadGateway:
		glog.Warningf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Message: err.Error()})
}
