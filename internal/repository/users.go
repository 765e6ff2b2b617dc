package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/text/language"

	"postkeeper/internal/model"
	"postkeeper/internal/query"
	"postkeeper/internal/remote"
)

// UserRepository reads users straight from the remote; users have no overlays.
type UserRepository struct {
	source   Source
	pipeline *query.Pipeline[model.User]
}

func NewUserRepository(source Source, collation language.Tag) *UserRepository {
	if collation == language.Und {
		collation = language.English
	}
	return &UserRepository{
		source:   source,
		pipeline: query.NewPipeline(query.UserFields, collation),
	}
}

func (r *UserRepository) FindAll(ctx context.Context) ([]model.User, error) {
	raw, err := r.source.FetchAll(ctx, remote.UsersCollection)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return remote.UsersFromRaw(raw), nil
}

// Search runs the query pipeline over the remote user list.
func (r *UserRepository) Search(ctx context.Context, q query.Query) (query.Page[model.User], error) {
	if _, err := query.NewPagination(q.Pagination.Page, q.Pagination.Limit); err != nil {
		return query.Page[model.User]{}, err
	}
	if err := r.pipeline.Fields().Check(q); err != nil {
		return query.Page[model.User]{}, err
	}
	users, err := r.FindAll(ctx)
	if err != nil {
		return query.Page[model.User]{}, err
	}
	return r.pipeline.Run(users, q), nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int) (model.User, bool, error) {
	raw, err := r.source.FetchOne(ctx, remote.UsersCollection, id)
	if err != nil {
		if ctx.Err() != nil {
			return model.User{}, false, ctx.Err()
		}
		if !errors.Is(err, model.ErrNotFound) {
			glog.Warningf("fetching user %d, treating as absent: %v", id, err)
		}
		return model.User{}, false, nil
	}
	return remote.UserFromRaw(raw), true, nil
}
