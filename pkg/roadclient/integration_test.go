//go:build integration

// Integration test against a running server.
//
// Run: go test -tags=integration ./pkg/roadclient/
package roadclient_test

import (
	"context"
	"os"
	"testing"

	"github.com/roadwatch/roadwatch/pkg/roadclient"
)

func baseURL() string {
	if u := os.Getenv("ROADWATCH_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8888"
}

func client(t *testing.T) *roadclient.Client {
	c, err := roadclient.New(baseURL())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHealth(t *testing.T) {
	h, err := client(t).Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" {
		t.Fatalf("status=%q, want ok", h.Status)
	}
}

func TestInfo(t *testing.T) {
	info, err := client(t).Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "roadwatch" {
		t.Fatalf("name=%q, want roadwatch", info.Name)
	}
}

func TestListAndGetEntry(t *testing.T) {
	c := client(t)
	ctx := context.Background()

	page, err := c.ListEntries(ctx, roadclient.ListOptions{Limit: 5})
	if err != nil {
		t.Fatal("list:", err)
	}
	if page.Total < len(page.Data) {
		t.Fatalf("total=%d smaller than page of %d", page.Total, len(page.Data))
	}
	if len(page.Data) == 0 {
		t.Skip("no reports on this server")
	}

	got, err := c.Entry(ctx, page.Data[0].ID)
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.ID != page.Data[0].ID {
		t.Fatalf("id=%q, want %q", got.ID, page.Data[0].ID)
	}
}

func TestSearchPlaces(t *testing.T) {
	places, err := client(t).SearchPlaces(context.Background(), "manila city hall", 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range places {
		if p.Label == "" {
			t.Fatal("place with empty label")
		}
	}
}

func TestStats(t *testing.T) {
	c := client(t)
	ctx := context.Background()

	info, err := c.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Stats {
		t.Skip("stats mirror not enabled on this server")
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries < 0 {
		t.Fatalf("total_entries=%d", stats.TotalEntries)
	}
}
