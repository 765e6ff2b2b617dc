package model

// Post is the record managed by the overlay repository. Values are never
// mutated in place; every write produces a new Post.
type Post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// CreatePostInput carries the caller-supplied fields of a new post.
type CreatePostInput struct {
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// UpdatePostInput targets an existing post. Nil fields keep their current value.
type UpdatePostInput struct {
	ID     int     `json:"id"`
	UserID *int    `json:"userId,omitempty"`
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
}
