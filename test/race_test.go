//go:build integration

package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

func TestDeactivateRaceSingleWinner(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			store := session.NewStore(mode.setup(t), "race1", time.Hour)
			if err := store.Create(ctx, makeSession("u1", "sid-race", base, 45*time.Minute)); err != nil {
				t.Fatalf("Create: %v", err)
			}

			const workers = 16
			start := make(chan struct{})
			var wg sync.WaitGroup
			results := make(chan bool, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := store.Deactivate(ctx, "sid-race", session.ReasonDeviceMismatch, base.Add(time.Minute))
					if err != nil {
						t.Errorf("Deactivate: %v", err)
					}
					results <- ok
				}()
			}
			close(start)
			wg.Wait()
			close(results)

			winners := 0
			for ok := range results {
				if ok {
					winners++
				}
			}
			if winners != 1 {
				t.Fatalf("expected exactly one winner, got %d", winners)
			}
		})
	}
}

func TestTouchRaceKeepsNewest(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			store := session.NewStore(mode.setup(t), "race2", time.Hour)
			if err := store.Create(ctx, makeSession("u1", "sid-touch", base, 45*time.Minute)); err != nil {
				t.Fatalf("Create: %v", err)
			}

			const workers = 32
			var wg sync.WaitGroup
			for i := 1; i <= workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					at := base.Add(time.Duration(i) * time.Second)
					if err := store.Touch(ctx, "sid-touch", at, at.Add(45*time.Minute), risk.Low); err != nil {
						t.Errorf("Touch %d: %v", i, err)
					}
				}(i)
			}
			wg.Wait()

			got, err := store.Get(ctx, "sid-touch")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			newest := base.Add(workers * time.Second)
			if !got.LastActivityAt.Equal(newest) || !got.ExpiresAt.Equal(newest.Add(45*time.Minute)) {
				t.Fatalf("last=%s exp=%s, want newest %s", got.LastActivityAt, got.ExpiresAt, newest)
			}
		})
	}
}
