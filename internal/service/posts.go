// Package service holds the post and user use cases. Input is validated here,
// before any storage or network work.
package service

import (
	"context"
	"strings"

	"postkeeper/internal/model"
	"postkeeper/internal/query"
	"postkeeper/internal/repository"
)

// PostStore is the repository surface the post use cases need.
type PostStore interface {
	FindAll(ctx context.Context, q query.Query) (query.Page[model.Post], error)
	FindByID(ctx context.Context, id int) (model.Post, bool, error)
	Create(ctx context.Context, in model.CreatePostInput) (repository.WriteResult, error)
	Update(ctx context.Context, in model.UpdatePostInput) (repository.WriteResult, error)
	Delete(ctx context.Context, id int) (repository.WriteResult, error)
	ClearLocal(ctx context.Context) error
}

var _ PostStore = (*repository.PostRepository)(nil)

type SortParams struct {
	Field     string
	Direction string
}

type FilterParams struct {
	Field    string
	Operator string
	Value    string
}

type PostService struct {
	posts PostStore
}

func NewPostService(posts PostStore) *PostService {
	return &PostService{posts: posts}
}

// BuildQuery validates raw read parameters into a Query.
func BuildQuery(page, limit int, sort *SortParams, filters []FilterParams) (query.Query, error) {
	pg, err := query.NewPagination(page, limit)
	if err != nil {
		return query.Query{}, err
	}
	q := query.Query{Pagination: pg}
	if sort != nil {
		sc, err := query.NewSortCriteria(sort.Field, query.SortDirection(sort.Direction))
		if err != nil {
			return query.Query{}, err
		}
		q.Sort = &sc
	}
	for _, f := range filters {
		fc, err := query.NewFilterCriteria(f.Field, query.FilterOperator(f.Operator), f.Value)
		if err != nil {
			return query.Query{}, err
		}
		q.Filters = append(q.Filters, fc)
	}
	return q, nil
}

func (s *PostService) GetPosts(ctx context.Context, page, limit int, sort *SortParams, filters []FilterParams) (query.Page[model.Post], error) {
	q, err := BuildQuery(page, limit, sort, filters)
	if err != nil {
		return query.Page[model.Post]{}, err
	}
	return s.posts.FindAll(ctx, q)
}

func (s *PostService) GetPost(ctx context.Context, id int) (model.Post, error) {
	if id <= 0 {
		return model.Post{}, model.Invalid("id", "valid post id is required")
	}
	p, found, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return model.Post{}, err
	}
	if !found {
		return model.Post{}, &model.NotFoundError{Kind: "post", ID: id}
	}
	return p, nil
}

func (s *PostService) CreatePost(ctx context.Context, in model.CreatePostInput) (repository.WriteResult, error) {
	if strings.TrimSpace(in.Title) == "" {
		return repository.WriteResult{}, model.Invalid("title", "title is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return repository.WriteResult{}, model.Invalid("body", "body is required")
	}
	if in.UserID <= 0 {
		return repository.WriteResult{}, model.Invalid("userId", "valid userId is required")
	}
	return s.posts.Create(ctx, in)
}

// UpdatePost leaves the existence check to the store, which resolves the
// current post anyway and reports a NotFoundError when there is none.
func (s *PostService) UpdatePost(ctx context.Context, in model.UpdatePostInput) (repository.WriteResult, error) {
	if in.ID <= 0 {
		return repository.WriteResult{}, model.Invalid("id", "valid post id is required")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return repository.WriteResult{}, model.Invalid("title", "title cannot be empty")
	}
	if in.Body != nil && strings.TrimSpace(*in.Body) == "" {
		return repository.WriteResult{}, model.Invalid("body", "body cannot be empty")
	}
	if in.UserID != nil && *in.UserID <= 0 {
		return repository.WriteResult{}, model.Invalid("userId", "valid userId is required")
	}
	return s.posts.Update(ctx, in)
}

// DeletePost refuses ids that do not resolve, so a second delete of the same
// post is a NotFoundError even though the repository would accept it.
func (s *PostService) DeletePost(ctx context.Context, id int) (repository.WriteResult, error) {
	if id <= 0 {
		return repository.WriteResult{}, model.Invalid("id", "valid post id is required")
	}
	if _, err := s.GetPost(ctx, id); err != nil {
		return repository.WriteResult{}, err
	}
	return s.posts.Delete(ctx, id)
}

func (s *PostService) ClearLocalData(ctx context.Context) error {
	return s.posts.ClearLocal(ctx)
}
