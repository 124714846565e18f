package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/briefcast/api/internal/model"
)

// MockStorage keeps artifacts in memory. It stands in for R2 in development
// when no bucket is configured.
type MockStorage struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMockStorage creates an in-memory object store whose URLs start with baseURL.
func NewMockStorage(baseURL string) *MockStorage {
	if baseURL == "" {
		baseURL = "http://localhost:8000/mock-storage"
	}
	return &MockStorage{baseURL: baseURL, objects: make(map[string][]byte)}
}

func (m *MockStorage) Store(_ context.Context, key string, body []byte, _ string, _ model.Visibility) (string, error) {
	data := make([]byte, len(body))
	copy(data, body)

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()

	return fmt.Sprintf("%s/%s", m.baseURL, key), nil
}

// Object returns a stored artifact.
func (m *MockStorage) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
