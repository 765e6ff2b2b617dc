package service

import (
	"context"

	"postkeeper/internal/model"
	"postkeeper/internal/query"
	"postkeeper/internal/repository"
)

type UserStore interface {
	FindAll(ctx context.Context) ([]model.User, error)
	Search(ctx context.Context, q query.Query) (query.Page[model.User], error)
	FindByID(ctx context.Context, id int) (model.User, bool, error)
}

var _ UserStore = (*repository.UserRepository)(nil)

type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetUsers(ctx context.Context) ([]model.User, error) {
	return s.users.FindAll(ctx)
}

func (s *UserService) SearchUsers(ctx context.Context, page, limit int, sort *SortParams, filters []FilterParams) (query.Page[model.User], error) {
	q, err := BuildQuery(page, limit, sort, filters)
	if err != nil {
		return query.Page[model.User]{}, err
	}
	return s.users.Search(ctx, q)
}

func (s *UserService) GetUser(ctx context.Context, id int) (model.User, error) {
	if id <= 0 {
		return model.User{}, model.Invalid("id", "valid user id is required")
	}
	u, found, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if !found {
		return model.User{}, &model.NotFoundError{Kind: "user", ID: id}
	}
	return u, nil
}
