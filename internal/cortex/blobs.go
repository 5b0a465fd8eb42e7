package cortex

import (
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/xact"
)

// Reserved blob keys.
const (
	BlobVersion = "cortex:version"
	BlobCreated = "cortex:created"
)

// GetBlob returns the bytes stored under key, or def if key is absent.
func (c *Cortex) GetBlob(ctx context.Context, key string, def []byte) ([]byte, error) {
	var val []byte
	err := c.read(ctx, func(r storage.Reader) error {
		got, ok, err := r.Blob(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "get blob %q", key)
		}
		if !ok {
			val = def
			return nil
		}
		val = got
		return nil
	})
	return val, err
}

// HasBlob reports whether key is present.
func (c *Cortex) HasBlob(ctx context.Context, key string) (bool, error) {
	var has bool
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		_, has, err = r.Blob(ctx, key)
		return err
	})
	return has, err
}

// SetBlob stores val under key.
func (c *Cortex) SetBlob(ctx context.Context, key string, val []byte) error {
	val = bytes.Clone(val)
	if val == nil {
		val = []byte{}
	}
	return c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		if err := x.Unit().SetBlob(ctx, key, val); err != nil {
			return errors.Wrapf(err, "set blob %q", key)
		}
		if err := c.save(ctx, x, savefile.Record{Op: savefile.OpSetBlob, Key: key, Blob: val}); err != nil {
			return err
		}
		return c.fire(ctx, x, EventBlobSet, BlobChanged{Key: key, Value: val})
	})
}

// DelBlob removes key and returns the bytes it held. An absent key fails
// with storage.ErrNoSuchName.
func (c *Cortex) DelBlob(ctx context.Context, key string) ([]byte, error) {
	var old []byte
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		u := x.Unit()
		val, ok, err := u.Blob(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "get blob %q", key)
		}
		if !ok {
			return errors.Wrapf(storage.ErrNoSuchName, "blob %q", key)
		}
		if _, err := u.DeleteBlob(ctx, key); err != nil {
			return errors.Wrapf(err, "delete blob %q", key)
		}
		old = val
		if err := c.save(ctx, x, savefile.Record{Op: savefile.OpDelBlob, Key: key}); err != nil {
			return err
		}
		return c.fire(ctx, x, EventBlobDel, BlobChanged{Key: key, Value: val})
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

// BlobKeys lists every blob key in ascending order.
func (c *Cortex) BlobKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		keys, err = r.BlobKeys(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list blobs")
	}
	sort.Strings(keys)
	return keys, nil
}

// SetBlobValue stores the msgpack encoding of v under key.
func (c *Cortex) SetBlobValue(ctx context.Context, key string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode blob %q", key)
	}
	return c.SetBlob(ctx, key, data)
}

// GetBlobValue decodes the value under key into out and reports whether
// key was present. out is untouched when it is absent.
func (c *Cortex) GetBlobValue(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.GetBlob(ctx, key, nil)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return true, errors.Wrapf(err, "decode blob %q", key)
	}
	return true, nil
}

// Created returns the creation time recorded when the store was first
// opened, in milliseconds since the epoch.
func (c *Cortex) Created(ctx context.Context) (uint64, error) {
	var ms uint64
	if _, err := c.GetBlobValue(ctx, BlobCreated, &ms); err != nil {
		return 0, err
	}
	return ms, nil
}

func (c *Cortex) initCreated(ctx context.Context) error {
	has, err := c.HasBlob(ctx, BlobCreated)
	if err != nil || has {
		return err
	}
	return c.SetBlobValue(ctx, BlobCreated, c.stamp())
}
