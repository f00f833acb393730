package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ServerManager handles thread-safe access to the persisted server list
type ServerManager struct {
	configDir string
	mutex     sync.RWMutex
	servers   []ServerDefinition
}

// NewServerManager creates a new server manager
func NewServerManager(configDir string) (*ServerManager, error) {
	sm := &ServerManager{
		configDir: configDir,
		servers:   []ServerDefinition{},
	}

	if err := sm.Load(); err != nil {
		return nil, err
	}

	return sm, nil
}

// Load reads the configuration from disk
func (sm *ServerManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	servers, err := LoadServers(sm.configDir)
	if err != nil {
		return err
	}
	sm.servers = servers
	return nil
}

// Save writes the current configuration to disk
func (sm *ServerManager) Save() error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if err := SaveServers(sm.configDir, sm.servers); err != nil {
		return err
	}

	log.Printf("[ServerManager] Saved %d servers to %s", len(sm.servers), sm.configDir)
	return nil
}

// GetAll returns a copy of all server definitions
func (sm *ServerManager) GetAll() []ServerDefinition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	result := make([]ServerDefinition, len(sm.servers))
	copy(result, sm.servers)
	return result
}

// GetByID returns a server definition by ID
func (sm *ServerManager) GetByID(id string) (ServerDefinition, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, s := range sm.servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerDefinition{}, false
}

// Add adds a new server definition and returns it with its ID filled in
func (sm *ServerManager) Add(server ServerDefinition) (ServerDefinition, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if server.ID == "" {
		server.ID = uuid.NewString()
	}

	for _, s := range sm.servers {
		if s.ID == server.ID {
			return ServerDefinition{}, fmt.Errorf("server with ID %s already exists", server.ID)
		}
	}

	if err := ValidateServerDefinition(&server); err != nil {
		return ServerDefinition{}, fmt.Errorf("invalid server definition: %w", err)
	}

	sm.servers = append(sm.servers, server)
	return server, nil // Call Save() explicitly after adding
}

// Update updates an existing server definition
func (sm *ServerManager) Update(server ServerDefinition) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if err := ValidateServerDefinition(&server); err != nil {
		return fmt.Errorf("invalid server definition: %w", err)
	}

	for i, s := range sm.servers {
		if s.ID == server.ID {
			sm.servers[i] = server
			return nil // Call Save() explicitly after updating
		}
	}

	return fmt.Errorf("server with ID %s not found", server.ID)
}

// Delete removes a server definition
func (sm *ServerManager) Delete(id string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, s := range sm.servers {
		if s.ID == id {
			sm.servers = append(sm.servers[:i], sm.servers[i+1:]...)
			return nil // Call Save() explicitly after deleting
		}
	}

	return fmt.Errorf("server with ID %s not found", id)
}
