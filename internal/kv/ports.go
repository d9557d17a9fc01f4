package kv

import (
	"context"
	"errors"
)

// Keys under which the tracker persists its two documents.
const (
	DeliveryDataKey = "deliveryData"
	FuelExpensesKey = "fuelExpenses"
)

var ErrClosed = errors.New("store closed")

// Ports for outbound adapters.
type (
	// Reader returns the stored value of a key; ok is false when the key is absent.
	Reader interface {
		Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	}

	Writer interface {
		Set(ctx context.Context, key string, value []byte) error
		Delete(ctx context.Context, key string) error
	}

	// Store is the persistence collaborator. Values are JSON documents and
	// must be returned byte for byte as written.
	Store interface {
		Reader
		Writer
		Close() error
	}
)
