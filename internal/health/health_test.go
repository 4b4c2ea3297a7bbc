package health

import (
	"context"
	"testing"
)

func TestCheckAllAggregatesAndSorts(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	healthy, statuses := r.CheckAll(ctx)
	if !healthy || len(statuses) != 0 {
		t.Fatalf("empty registry: healthy=%v statuses=%v", healthy, statuses)
	}

	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("broker", func(context.Context) Status {
		return Status{Name: "broker", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses = r.CheckAll(ctx)
	if healthy {
		t.Error("one failing checker should fail the aggregate")
	}
	if len(statuses) != 2 || statuses[0].Name != "broker" || statuses[1].Name != "database" {
		t.Errorf("statuses not sorted by name: %v", statuses)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Errorf("re-registering should replace: healthy=%v statuses=%v", healthy, statuses)
	}
}
