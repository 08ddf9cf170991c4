package partition_test

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentRooms 測試併發開房、分配玩家與關房
func TestStress_ConcurrentRooms(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	s := newServer(t, 2)
	ctx := context.Background()

	const (
		numGoroutines     = 20
		roomsPerGoroutine = 10
		playersPerRoom    = 4
	)

	var (
		wg           sync.WaitGroup
		successCount int32
		errorCount   int32
	)

	start := time.Now()
	for i := range numGoroutines {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := range roomsPerGoroutine {
				info, err := s.CreateRoom(ctx, room.DefaultConfig())
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				for k := range playersPerRoom {
					addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, byte(goroutineID), byte(j), byte(k)}), 5000)
					if _, err := s.Admit(info.Code, addr, creds(fmt.Sprintf("u%d-%d-%d", goroutineID, j, k))); err != nil {
						atomic.AddInt32(&errorCount, 1)
					}
				}
				atomic.AddInt32(&successCount, 1)
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	t.Logf("併發開房結果: 成功 %d, 失敗 %d, 耗時 %v", successCount, errorCount, duration)
	assert.Zero(t, errorCount)
	require.EqualValues(t, numGoroutines*roomsPerGoroutine, successCount)

	stats := s.Stats()
	assert.Equal(t, numGoroutines*roomsPerGoroutine, stats["total_rooms"])
	assert.Equal(t, numGoroutines*roomsPerGoroutine*playersPerRoom, stats["total_players"])

	// 併發關閉所有房間
	rooms, total := s.ListRooms(1, 0)
	require.Equal(t, numGoroutines*roomsPerGoroutine, total)
	for _, info := range rooms {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			assert.NoError(t, s.CloseRoom(code))
		}(info.Code)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Stats()["total_rooms"])
	for _, p := range s.Partitions() {
		assert.Zero(t, p.Stats().Groups)
		assert.Zero(t, p.Stats().Rooms)
	}
}

// BenchmarkServer_CreateRoom 測試開房效能
func BenchmarkServer_CreateRoom(b *testing.B) {
	s := partition.NewServer(partition.ServerOptions{
		Partitions: 4,
		Logger:     testLogger(),
		Send:       newNetwork().send,
	})
	defer s.Stop()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		info, err := s.CreateRoom(ctx, room.DefaultConfig())
		if err != nil {
			b.Fatal(err)
		}
		if err := s.CloseRoom(info.Code); err != nil {
			b.Fatal(err)
		}
	}
}
