package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

func testDefinition(id string) ServerDefinition {
	return ServerDefinition{
		ServerConfig: supervisor.ServerConfig{
			ID:          id,
			Name:        "Test Server",
			Executable:  "/opt/UE/Engine/Binaries/Linux/UnrealEditor",
			ProjectPath: "/games/Shooter/Shooter.uproject",
			Port:        7777,
		},
		Params: `-log "-ServerName=Test Server"`,
	}
}

func TestServerManager_CRUD(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewServerManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	added, err := manager.Add(testDefinition(""))
	if err != nil {
		t.Fatalf("Failed to add server: %v", err)
	}
	if added.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if err := manager.Save(); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	retrieved, found := manager.GetByID(added.ID)
	if !found {
		t.Fatal("Server not found after adding")
	}
	if retrieved.Name != "Test Server" {
		t.Errorf("Expected name 'Test Server', got '%s'", retrieved.Name)
	}

	// Create new manager to read from disk
	manager2, err := NewServerManager(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	persisted, found := manager2.GetByID(added.ID)
	if !found {
		t.Fatal("Server not persisted to disk")
	}
	if persisted.Params != added.Params || persisted.ProjectPath != added.ProjectPath {
		t.Fatalf("persisted definition differs: %+v", persisted)
	}

	added.Name = "Updated Name"
	if err := manager.Update(added); err != nil {
		t.Errorf("Failed to update server: %v", err)
	}
	updated, _ := manager.GetByID(added.ID)
	if updated.Name != "Updated Name" {
		t.Error("Update did not persist in memory")
	}

	if err := manager.Delete(added.ID); err != nil {
		t.Errorf("Failed to delete server: %v", err)
	}
	if _, found := manager.GetByID(added.ID); found {
		t.Error("Server still exists after deletion")
	}
	if err := manager.Delete(added.ID); err == nil {
		t.Error("expected error deleting a missing server")
	}
}

func TestServerManager_RejectsInvalid(t *testing.T) {
	manager, err := NewServerManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	def := testDefinition("")
	def.Executable = ""
	if _, err := manager.Add(def); err == nil {
		t.Fatal("expected error for missing executable")
	}

	def = testDefinition("")
	def.Params = `"unterminated`
	if _, err := manager.Add(def); err == nil {
		t.Fatal("expected error for bad params")
	}

	first, err := manager.Add(testDefinition(""))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Add(testDefinition(first.ID)); err == nil {
		t.Fatal("expected duplicate ID error")
	}
}

func TestServerManager_Concurrency(t *testing.T) {
	manager, err := NewServerManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			manager.GetAll()
		}()
		go func() {
			defer wg.Done()
			if _, err := manager.Add(testDefinition("")); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(manager.GetAll()); got != 10 {
		t.Fatalf("expected 10 servers, got %d", got)
	}
}

func TestServerDefinitionToServerConfig(t *testing.T) {
	def := testDefinition("8f7a3c1e-1b2d-4c5e-9f00-112233445566")
	def.ExtraArgs = []string{"-nosteam"}

	cfg, err := def.ToServerConfig()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want := []string{"-nosteam", "-log", "-ServerName=Test Server"}
	if len(cfg.ExtraArgs) != len(want) {
		t.Fatalf("unexpected args %v", cfg.ExtraArgs)
	}
	for i := range want {
		if cfg.ExtraArgs[i] != want[i] {
			t.Fatalf("unexpected args %v", cfg.ExtraArgs)
		}
	}
	if len(def.ExtraArgs) != 1 {
		t.Fatalf("conversion mutated the definition")
	}
}

func TestLoadServersMissingFile(t *testing.T) {
	servers, err := LoadServers(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestLoadServersParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `servers:
  - id: 8f7a3c1e-1b2d-4c5e-9f00-112233445566
    name: Arena
    executable: /opt/UE
    port: 7780
    extra_args: ["-log"]
    params: "-NetPort=7781"
    auto_start: true
`
	if err := os.WriteFile(filepath.Join(dir, "servers.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	servers, err := LoadServers(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	s := servers[0]
	if s.Name != "Arena" || s.Port != 7780 || !s.AutoStart || s.Params != "-NetPort=7781" {
		t.Fatalf("unexpected server %+v", s)
	}
}
