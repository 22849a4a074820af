//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* Benchmarks against a real PostgreSQL container
 * Run with: go test -tags=integration -bench=. -benchmem ./webhook/postgres/
 * The container start is excluded with b.ResetTimer
 */

func BenchmarkSaveResult_Postgres(b *testing.B) {
	ctx := context.Background()
	repo, cleanup := SetupTestRepository(b, ctx)
	defer cleanup()

	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := newDelivery(fmt.Sprintf("bench-%d", i), webhook.Delivered, now)
		if err := repo.SaveResult(ctx, d); err != nil {
			b.Fatalf("SaveResult failed: %v", err)
		}
	}
}

func BenchmarkSaveResult_Upsert_Postgres(b *testing.B) {
	ctx := context.Background()
	repo, cleanup := SetupTestRepository(b, ctx)
	defer cleanup()

	d := newDelivery("bench-upsert", webhook.Failed, time.Now())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Attempt = i + 1
		if err := repo.SaveResult(ctx, d); err != nil {
			b.Fatalf("SaveResult failed: %v", err)
		}
	}
}

func BenchmarkListRecent_Postgres(b *testing.B) {
	ctx := context.Background()
	repo, cleanup := SetupTestRepository(b, ctx)
	defer cleanup()

	start := time.Now().Add(-time.Hour)
	for i := 0; i < 500; i++ {
		d := newDelivery(fmt.Sprintf("seed-%d", i), webhook.Delivered, start.Add(time.Duration(i)*time.Second))
		if err := repo.SaveResult(ctx, d); err != nil {
			b.Fatalf("seeding failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := repo.ListRecent(ctx, webhook.DefaultRecentLimit); err != nil {
			b.Fatalf("ListRecent failed: %v", err)
		}
	}
}

func BenchmarkListSince_Postgres(b *testing.B) {
	ctx := context.Background()
	repo, cleanup := SetupTestRepository(b, ctx)
	defer cleanup()

	start := time.Now().Add(-time.Hour)
	for i := 0; i < 500; i++ {
		d := newDelivery(fmt.Sprintf("seed-%d", i), webhook.Delivered, start.Add(time.Duration(i)*time.Second))
		if err := repo.SaveResult(ctx, d); err != nil {
			b.Fatalf("seeding failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := repo.ListSince(ctx, start); err != nil {
			b.Fatalf("ListSince failed: %v", err)
		}
	}
}
