package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"postkeeper/internal/model"
)

// ListParams are the shared read parameters of the list endpoints.
type ListParams struct {
	Page  *int    `form:"page,omitempty" json:"page,omitempty"`
	Limit *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Sort  *string `form:"sort,omitempty" json:"sort,omitempty"`
	Order *string `form:"order,omitempty" json:"order,omitempty"`
	// Filter holds field:operator:value expressions; repeat the parameter to AND them.
	Filter *[]string `form:"filter,omitempty" json:"filter,omitempty"`
}

// ServerInterface is implemented by the HTTP handlers.
type ServerInterface interface {
	// (GET /v1/posts)
	ListPosts(w http.ResponseWriter, r *http.Request, params ListParams)
	// (POST /v1/posts)
	CreatePost(w http.ResponseWriter, r *http.Request)
	// (GET /v1/posts/{id})
	GetPost(w http.ResponseWriter, r *http.Request, id int)
	// (PUT /v1/posts/{id})
	ReplacePost(w http.ResponseWriter, r *http.Request, id int)
	// (PATCH /v1/posts/{id})
	PatchPost(w http.ResponseWriter, r *http.Request, id int)
	// (DELETE /v1/posts/{id})
	DeletePost(w http.ResponseWriter, r *http.Request, id int)
	// (DELETE /v1/local)
	ClearLocal(w http.ResponseWriter, r *http.Request)
	// (GET /v1/users)
	ListUsers(w http.ResponseWriter, r *http.Request)
	// (GET /v1/users/search)
	SearchUsers(w http.ResponseWriter, r *http.Request, params ListParams)
	// (GET /v1/users/{id})
	GetUser(w http.ResponseWriter, r *http.Request, id int)
}

type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper binds request parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) wrap(h http.Handler) http.Handler {
	for _, middleware := range siw.HandlerMiddlewares {
		h = middleware(h)
	}
	return h
}

func bindListParams(r *http.Request, params *ListParams) error {
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "page", q, &params.Page); err != nil {
		return &model.ValidationError{Field: "page", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &params.Limit); err != nil {
		return &model.ValidationError{Field: "limit", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	if err := runtime.BindQueryParameter("form", true, false, "sort", q, &params.Sort); err != nil {
		return &model.ValidationError{Field: "sort", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	if err := runtime.BindQueryParameter("form", true, false, "order", q, &params.Order); err != nil {
		return &model.ValidationError{Field: "order", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	if err := runtime.BindQueryParameter("form", true, false, "filter", q, &params.Filter); err != nil {
		return &model.ValidationError{Field: "filter", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	return nil
}

func bindID(r *http.Request, id *int) error {
	err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), id)
	if err != nil {
		return &model.ValidationError{Field: "id", Reason: fmt.Sprintf("invalid format: %v", err)}
	}
	return nil
}

func (siw *ServerInterfaceWrapper) withList(call func(w http.ResponseWriter, r *http.Request, params ListParams)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params ListParams
		if err := bindListParams(r, &params); err != nil {
			siw.ErrorHandlerFunc(w, r, err)
			return
		}
		siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call(w, r, params)
		})).ServeHTTP(w, r)
	}
}

func (siw *ServerInterfaceWrapper) withID(call func(w http.ResponseWriter, r *http.Request, id int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id int
		if err := bindID(r, &id); err != nil {
			siw.ErrorHandlerFunc(w, r, err)
			return
		}
		siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call(w, r, id)
		})).ServeHTTP(w, r)
	}
}

func (siw *ServerInterfaceWrapper) plain(call http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siw.wrap(call).ServeHTTP(w, r)
	}
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions mounts si on options.BaseRouter (a fresh router when nil).
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, err)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/posts", wrapper.withList(si.ListPosts))
		r.Post(options.BaseURL+"/v1/posts", wrapper.plain(si.CreatePost))
		r.Get(options.BaseURL+"/v1/posts/{id}", wrapper.withID(si.GetPost))
		r.Put(options.BaseURL+"/v1/posts/{id}", wrapper.withID(si.ReplacePost))
		r.Patch(options.BaseURL+"/v1/posts/{id}", wrapper.withID(si.PatchPost))
		r.Delete(options.BaseURL+"/v1/posts/{id}", wrapper.withID(si.DeletePost))
		r.Delete(options.BaseURL+"/v1/local", wrapper.plain(si.ClearLocal))
		r.Get(options.BaseURL+"/v1/users", wrapper.plain(si.ListUsers))
		r.Get(options.BaseURL+"/v1/users/search", wrapper.withList(si.SearchUsers))
		r.Get(options.BaseURL+"/v1/users/{id}", wrapper.withID(si.GetUser))
	})
	return r
}
