package memory

import "github.com/wolfeidau/whopvoice/internal/store"

// NewStores returns a fresh set of in-memory stores.
func NewStores() store.Stores {
	return store.Stores{
		Creators:      NewCreatorStore(),
		Customers:     NewCustomerStore(),
		AudioMessages: NewAudioMessageStore(),
	}
}
