package hubstore

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pmhub/hubsync/internal/hub"
)

type DocumentBackendFactory func(dsn string) (DocumentBackend, error)

var backendFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]DocumentBackendFactory
}{
	factories: map[string]DocumentBackendFactory{},
}

// RegisterDocumentBackendFactory lets embedders add custom DSN schemes
// without touching the built-in switch.
func RegisterDocumentBackendFactory(scheme string, factory DocumentBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.factories[scheme] = factory
}

func lookupDocumentBackendFactory(scheme string) (DocumentBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildDocumentBackendFromDSN maps a DSN to a backend. An empty DSN means
// no durable backend: the store runs in-memory only.
func BuildDocumentBackendFromDSN(dsn string) (DocumentBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupDocumentBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileDocumentBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryDocumentBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresDocumentBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported document backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", hub.ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", hub.ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", hub.ErrInvalidInput
	}
	return path, nil
}
