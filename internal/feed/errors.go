package feed

import "fmt"

// FeedError reports a failed read of an external source. It wraps the
// underlying cause, typically client.ErrTransport or client.ErrMalformedResponse.
type FeedError struct {
	Source string
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed: fetching %s: %v", e.Source, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}
