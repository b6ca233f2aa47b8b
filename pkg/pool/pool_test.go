package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

func requireHalt(t *testing.T, code int, fn func()) {
	var err error
	func() {
		defer fx.RecoverSysError(&err)
		fn()
	}()
	require.Error(t, err)
	serr, ok := err.(*fx.SysError)
	require.True(t, ok, "want SysError, got %T", err)
	require.Equal(t, code, serr.Code)
}

func TestAllocateRelease(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	b, err := p.Allocate(10)
	require.NoError(t, err)
	require.Equal(t, 10, b.Len())
	require.Equal(t, 64-12, p.Free())
	require.Equal(t, 1, p.Live())

	p.Release(b)
	require.Equal(t, 64, p.Free())
	require.Equal(t, 0, p.Live())
}

func TestAllocateReusesLastReleased(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	a, err := p.Allocate(16)
	require.NoError(t, err)
	b, err := p.Allocate(16)
	require.NoError(t, err)
	p.Release(a)
	c, err := p.Allocate(8)
	require.NoError(t, err)
	require.True(t, a == c)
	require.False(t, b == c)
	require.Equal(t, 8, c.Len())
}

func TestAllocateExhaustion(t *testing.T) {
	testCases := []struct {
		name  string
		conf  Config
		sizes []int
	}{
		{"bytes", Config{Capacity: 32, MaxBuffers: 8}, []int{16, 16, 1}},
		{"slots", Config{Capacity: 1024, MaxBuffers: 2}, []int{1, 1, 1}},
		{"too large", Config{Capacity: 32, MaxBuffers: 8}, []int{33}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(tc.conf)
			last := len(tc.sizes) - 1
			for n, size := range tc.sizes[:last] {
				_, err := p.Allocate(size)
				require.NoErrorf(t, err, "allocation %d", n)
			}
			live := p.Live()
			_, err := p.Allocate(tc.sizes[last])
			require.Equal(t, ErrOutOfBuffers, err)
			require.Equal(t, live, p.Live())
		})
	}
	require.False(t, New(Config{Capacity: 32}).Fits(33))
	require.True(t, New(Config{Capacity: 32}).Fits(32))
}

func TestDoubleRelease(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	b, err := p.Allocate(4)
	require.NoError(t, err)
	p.Release(b)
	requireHalt(t, fx.CodeDoubleFree, func() { p.Release(b) })
}

func TestReleaseQueued(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	b, err := p.Allocate(4)
	require.NoError(t, err)
	q := p.NewQueue()
	q.PushBack(b)
	requireHalt(t, fx.CodeBadQueue, func() { p.Release(b) })
	requireHalt(t, fx.CodeBadQueue, func() { p.NewQueue().PushBack(b) })
}

func TestForeignBuffer(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	requireHalt(t, fx.CodeAssert, func() { p.Release(&Buffer{}) })
}

func TestOnRelease(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	var released int
	p.OnRelease = func() { released++ }
	b, err := p.Allocate(4)
	require.NoError(t, err)
	p.Release(b)
	require.Equal(t, 1, released)
}

func TestCursor(t *testing.T) {
	p := New(Config{Capacity: 64, MaxBuffers: 4})
	b, err := p.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, b.SetBounds(2, 1))
	require.Equal(t, 5, b.Remaining())

	n, err := b.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	_, err = b.Write([]byte{4, 5, 6})
	require.Equal(t, ErrOverrun, err)
	require.Equal(t, 2, b.Remaining())
	require.NoError(t, b.WriteByte(4))

	b.Rewind()
	out := make([]byte, 4)
	n, err = b.Read(out)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, out)
	_, err = b.Read(out)
	require.Equal(t, ErrOverrun, err)
	require.Equal(t, []byte{1, 2, 3, 4}, b.Payload()[:4])
	require.Len(t, b.Payload(), 5)

	require.Equal(t, ErrBadBounds, b.SetBounds(5, 4))
}

func TestConcurrentAllocateRelease(t *testing.T) {
	p := New(Config{Capacity: 256, MaxBuffers: 16})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b, err := p.Allocate(16)
				if err != nil {
					continue
				}
				p.Release(b)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, p.Live())
	require.Equal(t, 256, p.Free())
}
