package llm

import (
	"fmt"
	"sync"

	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Factory builds a live client from a credential.
type Factory func(token supplier.Token) (Client, error)

var (
	mu        sync.RWMutex
	factories = make(map[supplier.Name]Factory)
	catalogs  = make(map[supplier.Name][]api.Model)
)

// Register installs the factory for a supplier. Adapters call it from init().
func Register(name supplier.Name, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("client factory %s already registered", name))
	}
	factories[name] = f
}

func Get(name supplier.Name) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: no client factory for %s", supplier.ErrUnknownSupplier, name)
	}
	return f, nil
}

// RegisterCatalog records the static model list a supplier serves.
func RegisterCatalog(name supplier.Name, models []api.Model) {
	mu.Lock()
	defer mu.Unlock()
	catalogs[name] = append([]api.Model(nil), models...)
}

func Catalog(name supplier.Name) []api.Model {
	mu.RLock()
	defer mu.RUnlock()
	return append([]api.Model(nil), catalogs[name]...)
}
