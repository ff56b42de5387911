package model

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Entity is a typed document. FromEncodedMap is called on the zero value of
// T by [Load], so it must not depend on receiver state.
type Entity[T any] interface {
	Validate() error
	ToEncodedMap() (map[string]types.AttributeValue, error)
	FromEncodedMap(map[string]types.AttributeValue) (T, error)
}

// Save validates e and writes it as a new document of m.
func Save[T Entity[T]](ctx context.Context, m *Model, e T, opts ...SaveOption) error {
	if err := e.Validate(); err != nil {
		return err
	}
	raw, err := e.ToEncodedMap()
	if err != nil {
		return err
	}
	return m.newDocument(raw).Save(ctx, opts...)
}

// Load reads the item with the given primary key and decodes it into a T.
func Load[T Entity[T]](ctx context.Context, m *Model, key map[string]any) (T, error) {
	var zero T
	d, err := m.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	return zero.FromEncodedMap(d.raw)
}
