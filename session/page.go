package session

// Page is one page of a paged API result.
type Page[T any] struct {
	Value         T
	NextPageToken string
}

// NewPage creates a page. An empty token marks the last page.
func NewPage[T any](value T, nextPageToken string) Page[T] {
	return Page[T]{Value: value, NextPageToken: nextPageToken}
}

// HasNextPage reports whether another page can be requested.
func (p Page[T]) HasNextPage() bool {
	return p.NextPageToken != ""
}
