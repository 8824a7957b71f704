// Package blobstore persists archived documents under slash-separated keys.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	defaultMaxGetSize int64 = 16 << 20
)

var (
	ErrInvalidConfig = errors.New("blobstore: invalid config")
	ErrInvalidKey    = errors.New("blobstore: invalid key")
	ErrNotFound      = errors.New("blobstore: not found")
	ErrExists        = errors.New("blobstore: already exists")
	ErrTooLarge      = errors.New("blobstore: object too large")
)

type Store interface {
	Put(ctx context.Context, key string, payload []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (Object, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// IfAbsent fails with ErrExists instead of overwriting.
	IfAbsent bool
}

type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	ETag         string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 16 MiB when <= 0.
	MaxGetSize int64

	// s3
	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverMemory, "":
		return newMemoryStore(newNamespace(cfg.Prefix)), nil
	case DriverS3:
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// namespace maps caller keys to object names below a fixed prefix.
type namespace struct {
	prefix string
}

func newNamespace(prefix string) namespace {
	return namespace{prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

// resolve validates key and returns it with its leading slash removed, plus the stored name.
func (ns namespace) resolve(key string) (clean, name string, err error) {
	if key != strings.TrimSpace(key) {
		return "", "", fmt.Errorf("%w: surrounding whitespace in %q", ErrInvalidKey, key)
	}
	clean = strings.TrimPrefix(key, "/")
	if clean == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.IndexFunc(clean, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0 {
		return "", "", fmt.Errorf("%w: control character in key", ErrInvalidKey)
	}
	if slices.Contains(strings.Split(clean, "/"), "..") {
		return "", "", fmt.Errorf("%w: parent segment in %q", ErrInvalidKey, clean)
	}
	return clean, ns.name(clean), nil
}

// name is the stored name for a cleaned key or key prefix.
func (ns namespace) name(clean string) string {
	if ns.prefix == "" {
		return clean
	}
	return ns.prefix + "/" + clean
}

// key strips the namespace from a stored name.
func (ns namespace) key(name string) (string, bool) {
	if ns.prefix == "" {
		return name, true
	}
	return strings.CutPrefix(name, ns.prefix+"/")
}

// metadataOf trims keys and values and drops empty keys.
func metadataOf(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
