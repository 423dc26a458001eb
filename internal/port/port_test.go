package port

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
)

func TestAllocate_FirstFit(t *testing.T) {
	a := NewAllocator(9000, 9005)
	busy := map[int]bool{9000: true, 9002: true}
	a.Available = func(p int) bool { return !busy[p] }

	p1, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9001, p1)

	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9003, p2, "reserved and busy ports are skipped")

	a.Release(p1)
	p3, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9001, p3, "released ports are reused")
}

func TestAllocate_Exhausted(t *testing.T) {
	a := NewAllocator(9000, 9001)
	a.Available = func(int) bool { return true }

	_, err := a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.True(t, errors.Is(err, errors.New(errors.ExitPortAllocation, "")))
	assert.Equal(t, errors.ExitPortAllocation, errors.GetExitCode(err))
}

func TestAllocate_Ephemeral(t *testing.T) {
	a := NewAllocator(0, 0)
	ports := []int{40000, 40000, 40001}
	a.Ephemeral = func() (int, error) {
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}

	p1, err := a.Allocate()
	require.NoError(t, err)
	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 40000, p1)
	assert.Equal(t, 40001, p2, "an already reserved OS port is discarded")
}

func TestAllocate_EphemeralError(t *testing.T) {
	a := NewAllocator(0, 0)
	a.Ephemeral = func() (int, error) { return 0, fmt.Errorf("no sockets") }
	_, err := a.Allocate()
	assert.ErrorContains(t, err, "no sockets")
}

func TestAllocate_RealOS(t *testing.T) {
	a := NewAllocator(0, 0)
	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Greater(t, p, 0)
	assert.True(t, a.Reserved(p))
}

func TestAllocate_Concurrent(t *testing.T) {
	a := NewAllocator(10000, 10099)
	a.Available = func(int) bool { return true }

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate()
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p], "port %d handed out twice", p)
			seen[p] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestReserve(t *testing.T) {
	a := NewAllocator(9000, 9001)
	a.Available = func(int) bool { return true }
	a.Reserve(9000)

	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9001, p)
}

func TestIsAvailable(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	assert.False(t, IsAvailable(port))
	assert.True(t, IsPortInUse(port))
}
