package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "cryptoboard", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/cryptoboard?sslmode=disable",
		},
		{
			name: "port and ssl mode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
		{
			name: "credentials are escaped",
			cfg:  ClientConfig{Host: "db", Database: "d", User: "u", Password: "p@ss/w"},
			want: "postgres://u:p%40ss%2Fw@db:5432/d?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) == 0 || names[0] != "001_history.sql" {
		t.Errorf("expected 001_history.sql first, got %v", names)
	}
}

func TestLimitOf(t *testing.T) {
	if got := limitOf(domain.ListOpts{}); got != defaultHistoryLimit {
		t.Errorf("expected default %d, got %d", defaultHistoryLimit, got)
	}
	if got := limitOf(domain.ListOpts{Limit: 7}); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

// TestHistoryStore_Integration runs against a real database when
// CRYPTOBOARD_TEST_POSTGRES_DSN is set.
func TestHistoryStore_Integration(t *testing.T) {
	dsn := os.Getenv("CRYPTOBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRYPTOBOARD_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if err := client.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewHistoryStore(client.Pool())
	id := "it-" + time.Now().UTC().Format("20060102150405.000000000")
	snap := &domain.Snapshot{
		ID:        id,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Source:    domain.SourceUpstream,
		Total:     2,
		Attempts:  1,
		Assets: []domain.Asset{
			{ID: "bitcoin", Rank: 1, Price: 65000, MarketCap: 1.2e12},
			{ID: "ethereum", Rank: 2, Price: 3000, MarketCap: 3.6e11},
		},
	}

	if err := store.Record(ctx, snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Second insert of the same snapshot is ignored.
	if err := store.Record(ctx, snap); err != nil {
		t.Fatalf("record again: %v", err)
	}

	recent, err := store.ListRecent(ctx, domain.ListOpts{Limit: 100})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	found := false
	for _, r := range recent {
		if r.SnapshotID == id {
			found = true
			if r.Total != 2 || r.Source != domain.SourceUpstream {
				t.Errorf("unexpected record: %+v", r)
			}
		}
	}
	if !found {
		t.Errorf("expected %s in recent history", id)
	}

	quotes, err := store.AssetQuotes(ctx, "ethereum", domain.ListOpts{Limit: 100})
	if err != nil {
		t.Fatalf("asset quotes: %v", err)
	}
	found = false
	for _, q := range quotes {
		if q.SnapshotID == id {
			found = true
			if q.Rank != 2 || q.Price != 3000 {
				t.Errorf("unexpected quote: %+v", q)
			}
		}
	}
	if !found {
		t.Errorf("expected quote for %s", id)
	}
}
