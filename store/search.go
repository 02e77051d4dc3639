package store

// SearchIndex is an external index over the contents of one or more
// collections. The store tells it when a collection has been emptied so that
// it can rebuild its own state.
type SearchIndex interface {
	// AllModelsWereRemoved is called after a transaction that removed every
	// row of the given collection commits.
	AllModelsWereRemoved(collection string) error
}

// NoOpSearchIndex is a SearchIndex that ignores every notification.
type NoOpSearchIndex struct{}

func (NoOpSearchIndex) AllModelsWereRemoved(collection string) error {
	return nil
}
