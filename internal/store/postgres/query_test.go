package postgres

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestFilterBuild(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(f *filter)
		opts     domain.ListOpts
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no conditions",
			setup:   func(*filter) {},
			wantSQL: "SELECT x FROM t ORDER BY ts DESC",
		},
		{
			name:     "symbol and limit",
			setup:    func(f *filter) { f.add("symbol = $%d", "BTC") },
			opts:     domain.ListOpts{Limit: 10},
			wantSQL:  "SELECT x FROM t WHERE symbol = $1 ORDER BY ts DESC LIMIT $2",
			wantArgs: []any{"BTC", 10},
		},
		{
			name: "time range with offset",
			setup: func(f *filter) {
				f.add("symbol = $%d", "ETH")
				f.timeRange("ts", &since, nil)
			},
			opts:     domain.ListOpts{Limit: 5, Offset: 20},
			wantSQL:  "SELECT x FROM t WHERE symbol = $1 AND ts >= $2 ORDER BY ts DESC LIMIT $3 OFFSET $4",
			wantArgs: []any{"ETH", since, 5, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f filter
			tt.setup(&f)
			sql, args := f.build("SELECT x FROM t", "ts DESC", tt.opts)
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("migrations out of order: %q before %q", names[i-1], names[i])
		}
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatalf("read %s: %v", names[0], err)
	}
	for _, table := range []string{"settlements", "settlement_payouts", "audit_log"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("initial migration does not create %s", table)
		}
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "h"}, "postgres://x"},
		{"defaults port and sslmode", ClientConfig{Host: "db", Database: "game", User: "u", Password: "p"},
			"postgres://u:p@db:5432/game?sslmode=disable"},
		{"custom port", ClientConfig{Host: "db", Port: 6543, Database: "game", User: "u", Password: "p", SSLMode: "require"},
			"postgres://u:p@db:6543/game?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}
