package db

import (
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/zulandar/ember/internal/config"
	"github.com/zulandar/ember/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			host:     "127.0.0.1",
			port:     3306,
			database: "ember",
			want:     "root@tcp(127.0.0.1:3306)/ember?parseTime=true",
		},
		{
			name:     "custom host and port",
			host:     "10.0.0.5",
			port:     3307,
			database: "ember_bob",
			want:     "root@tcp(10.0.0.5:3307)/ember_bob?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnectMySQL_Signature(t *testing.T) {
	var fn func(string, int, string) (*gorm.DB, error) = ConnectMySQL
	if fn == nil {
		t.Fatal("ConnectMySQL function is nil")
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 2 {
		t.Errorf("AllModels() returned %d models, want 2", n)
	}
}

func TestOpen_SQLiteFileMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ember.db")
	gdb, err := Open(config.StoreConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}

	cred := models.Credential{APIURL: "https://x", Token: "t"}
	if err := gdb.Create(&cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}
	dup := models.Credential{APIURL: "https://x", Token: "u"}
	if err := gdb.Create(&dup).Error; err == nil {
		t.Error("duplicate api url should violate unique index")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("error = %v", err)
	}
}

func TestConnectSQLite_Memory(t *testing.T) {
	gdb, err := ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
}
