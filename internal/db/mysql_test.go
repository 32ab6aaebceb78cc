package db

import (
	"strings"
	"testing"
)

func TestNormalizeMySQLDSN(t *testing.T) {
	got, err := normalizeMySQLDSN("u:p@tcp(127.0.0.1:3306)/hookrelay")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, want := range []string{"parseTime=true", "multiStatements=true", "/hookrelay"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q missing %q", got, want)
		}
	}

	if _, err := normalizeMySQLDSN("not a dsn"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClickHouseDisabledWithoutDSN(t *testing.T) {
	db, err := NewClickHouseConnection(ClickHouseOpts{})
	if db != nil || err != nil {
		t.Fatalf("db = %v, err = %v", db, err)
	}
}
