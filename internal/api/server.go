// Package api exposes the post and user use cases over JSON HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	"postkeeper/internal/model"
	"postkeeper/internal/query"
	"postkeeper/internal/repository"
	"postkeeper/internal/service"
)

// RemoteEchoHeader reports on writes whether the remote accepted the mirror
// call: ok, failed or skipped.
const RemoteEchoHeader = "X-Remote-Echo"

type Deps struct {
	Posts *service.PostService
	Users *service.UserService
	// Events serves the change feed; the route is left out when nil.
	Events http.Handler
}

type Server struct {
	posts *service.PostService
	users *service.UserService
}

var _ ServerInterface = (*Server)(nil)

// NewServer wires the handlers into a router and exposes a health check.
func NewServer(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if deps.Events != nil {
		r.Handle("/v1/events", deps.Events)
	}

	return HandlerWithOptions(&Server{posts: deps.Posts, users: deps.Users}, ChiServerOptions{
		BaseRouter: r,
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		glog.V(1).Infof("[%s] %s %s -> %d (%d bytes) in %s",
			middleware.GetReqID(r.Context()), r.Method, r.URL.RequestURI(), ww.Status(), ww.BytesWritten(), time.Since(start))
	})
}

func listArgs(params ListParams) (page, limit int, sort *service.SortParams, filters []service.FilterParams, err error) {
	page, limit = query.DefaultPage, query.DefaultLimit
	if params.Page != nil {
		page = *params.Page
	}
	if params.Limit != nil {
		limit = *params.Limit
	}
	if params.Sort != nil {
		sort = &service.SortParams{Field: *params.Sort, Direction: string(query.Asc)}
		if params.Order != nil {
			sort.Direction = *params.Order
		}
	}
	if params.Filter != nil {
		for _, expr := range *params.Filter {
			f, perr := ParseFilter(expr)
			if perr != nil {
				return 0, 0, nil, nil, perr
			}
			filters = append(filters, f)
		}
	}
	return page, limit, sort, filters, nil
}

// ParseFilter reads a field:operator:value expression. The value may itself
// contain colons.
func ParseFilter(expr string) (service.FilterParams, error) {
	parts := strings.SplitN(expr, ":", 3)
	if len(parts) != 3 {
		return service.FilterParams{}, model.Invalid("filter", "expected field:operator:value, got %q", expr)
	}
	return service.FilterParams{Field: parts[0], Operator: parts[1], Value: parts[2]}, nil
}

// FormatFilter is the inverse of ParseFilter.
func FormatFilter(f service.FilterParams) string {
	return f.Field + ":" + f.Operator + ":" + f.Value
}

func (s *Server) ListPosts(w http.ResponseWriter, r *http.Request, params ListParams) {
	page, limit, sort, filters, err := listArgs(params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.posts.GetPosts(r.Context(), page, limit, sort, filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) GetPost(w http.ResponseWriter, r *http.Request, id int) {
	p, err := s.posts.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) CreatePost(w http.ResponseWriter, r *http.Request) {
	var in model.CreatePostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.posts.CreatePost(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWrite(w, http.StatusCreated, res)
}

// ReplacePost requires every field; PatchPost takes any subset.
func (s *Server) ReplacePost(w http.ResponseWriter, r *http.Request, id int) {
	var in model.CreatePostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.posts.UpdatePost(r.Context(), model.UpdatePostInput{
		ID:     id,
		UserID: &in.UserID,
		Title:  &in.Title,
		Body:   &in.Body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWrite(w, http.StatusOK, res)
}

func (s *Server) PatchPost(w http.ResponseWriter, r *http.Request, id int) {
	var in model.UpdatePostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.ID != 0 && in.ID != id {
		writeError(w, r, model.Invalid("id", "body id %d does not match path id %d", in.ID, id))
		return
	}
	in.ID = id
	res, err := s.posts.UpdatePost(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWrite(w, http.StatusOK, res)
}

func (s *Server) DeletePost(w http.ResponseWriter, r *http.Request, id int) {
	res, err := s.posts.DeletePost(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(RemoteEchoHeader, res.Remote.Status())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ClearLocal(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.ClearLocalData(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.GetUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) SearchUsers(w http.ResponseWriter, r *http.Request, params ListParams) {
	page, limit, sort, filters, err := listArgs(params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.users.SearchUsers(r.Context(), page, limit, sort, filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request, id int) {
	u, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func decodeBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return model.Invalid("body", "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return model.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

func writeWrite(w http.ResponseWriter, status int, res repository.WriteResult) {
	w.Header().Set(RemoteEchoHeader, res.Remote.Status())
	writeJSON(w, status, res.Post)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("encode response: %v", err)
	}
}

