package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDSNPrefersSocketOverHostPort(t *testing.T) {
	c := Default()
	c.User, c.Password, c.Database = "u", "p", "db"
	c.Socket = "/tmp/mysql.sock"

	got := c.DSN()
	want := "u:p@unix(/tmp/mysql.sock)/db?parseTime=false"
	if got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestDSNUsesHostPortWithoutSocket(t *testing.T) {
	c := Default()
	c.User, c.Password, c.Database = "u", "p", "db"

	got := c.DSN()
	want := "u:p@tcp(localhost:3306)/db?parseTime=false"
	if got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	if _, err := Load("/mnt/db"); err == nil {
		t.Fatal("expected an error when --database is unset")
	}
}

func TestLoadRejectsEmptyMountPoint(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an empty mount point")
	}
}

func TestLoadDebugDNQBypassesValidation(t *testing.T) {
	viper.Set("debug-dnq", true)
	defer viper.Set("debug-dnq", false)

	c, err := Load("/mnt/db")
	if err != nil {
		t.Fatalf("Load() with debug-dnq set: %v", err)
	}
	if !c.DebugDNQ {
		t.Fatal("expected DebugDNQ to be true")
	}
}
