package store

import (
	"context"
	"encoding/json"
	"fmt"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
)

// Object is a typed resource that can be kept in a Store.
type Object interface {
	Kind() string
	GetObjectMeta() *v1alpha1.ObjectMeta
}

// ObjectPtr constrains a type parameter to a pointer to T implementing Object.
type ObjectPtr[T any] interface {
	*T
	Object
}

// Client reads and writes typed resources. Metadata version and creation timestamp are
// taken from the store, never from the encoded document.
type Client struct {
	Store Store
}

// NewClient wraps s.
func NewClient(s Store) *Client {
	return &Client{Store: s}
}

// Get returns the resource of type T named name.
func Get[T any, PT ObjectPtr[T]](ctx context.Context, c *Client, name string) (*T, error) {
	obj := PT(new(T))
	rec, err := c.Store.Get(ctx, obj.Kind(), name)
	if err != nil {
		return nil, err
	}
	if err := decode(rec, obj); err != nil {
		return nil, err
	}
	return (*T)(obj), nil
}

// List returns all resources of type T ordered by name.
func List[T any, PT ObjectPtr[T]](ctx context.Context, c *Client) ([]*T, error) {
	kind := PT(new(T)).Kind()
	recs, err := c.Store.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		obj := PT(new(T))
		if err := decode(rec, obj); err != nil {
			return nil, err
		}
		out = append(out, (*T)(obj))
	}
	return out, nil
}

// Create stores obj and updates its metadata from the stored record.
func (c *Client) Create(ctx context.Context, obj Object) error {
	rec, err := encode(obj)
	if err != nil {
		return err
	}
	stored, err := c.Store.Create(ctx, rec)
	if err != nil {
		return err
	}
	setMeta(obj, stored)
	return nil
}

// Update stores obj if its metadata version is still current and advances the version.
func (c *Client) Update(ctx context.Context, obj Object) error {
	rec, err := encode(obj)
	if err != nil {
		return err
	}
	stored, err := c.Store.Update(ctx, rec)
	if err != nil {
		return err
	}
	setMeta(obj, stored)
	return nil
}

func encode(obj Object) (Record, error) {
	meta := obj.GetObjectMeta()
	data, err := json.Marshal(obj)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s %q: %w", obj.Kind(), meta.Name, err)
	}
	return Record{Kind: obj.Kind(), Name: meta.Name, Version: meta.Version, Data: data}, nil
}

func decode(rec Record, obj Object) error {
	if err := json.Unmarshal(rec.Data, obj); err != nil {
		return fmt.Errorf("failed to decode %s %q: %w", rec.Kind, rec.Name, err)
	}
	setMeta(obj, rec)
	return nil
}

func setMeta(obj Object, rec Record) {
	meta := obj.GetObjectMeta()
	meta.Name = rec.Name
	meta.Version = rec.Version
	meta.CreationTimestamp = rec.CreatedAt
}
