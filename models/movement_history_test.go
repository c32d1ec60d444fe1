package models

import (
	"testing"

	"github.com/fieldfocus/fieldops_backend/config"
)

func TestHistoryLimit(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{0, config.SearchLimit},
		{-3, config.SearchLimit},
		{1, 1},
		{50, 50},
		{maxHistoryLimit, maxHistoryLimit},
		{maxHistoryLimit + 1, maxHistoryLimit},
		{10000, maxHistoryLimit},
	}
	for _, c := range cases {
		if got := historyLimit(c.limit); got != c.want {
			t.Errorf("historyLimit(%d) = %d, want %d", c.limit, got, c.want)
		}
	}
}
