package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/store"
)

func TestClient_AtomicUpdate(t *testing.T) {
	t.Run("creates a missing document, fn sees nil", func(t *testing.T) {
		c, _ := makeClient(t)

		var sawCur []byte = []byte("sentinel")
		got, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			sawCur = cur
			return []byte(`{"v":1}`), nil
		})
		require.NoError(t, err)
		require.Nil(t, sawCur)
		require.JSONEq(t, `{"v":1}`, string(got))

		b, err := c.Read(context.Background(), "doc")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":1}`, string(b))
	})

	t.Run("updates an existing document from its current value", func(t *testing.T) {
		c, _ := makeClient(t)
		require.NoError(t, c.Set(context.Background(), "doc", []byte(`{"v":1}`)))

		got, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			var d map[string]int
			require.NoError(t, json.Unmarshal(cur, &d))
			d["v"]++
			return json.Marshal(d)
		})
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(got))
	})

	t.Run("fn returning nil deletes the document", func(t *testing.T) {
		c, _ := makeClient(t)
		require.NoError(t, c.Set(context.Background(), "doc", []byte(`{"v":1}`)))

		got, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			return nil, nil
		})
		require.NoError(t, err)
		require.Nil(t, got)

		_, err = c.Read(context.Background(), "doc")
		require.True(t, errors.Is(err, errors.CodeNotFound))
	})

	t.Run("fn error aborts the update and leaves the document untouched", func(t *testing.T) {
		c, _ := makeClient(t)
		require.NoError(t, c.Set(context.Background(), "doc", []byte(`{"v":1}`)))

		boom := errors.New(errors.CodeFailedPrecondition)
		_, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			return []byte(`{"v":999}`), boom
		})
		require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

		b, err := c.Read(context.Background(), "doc")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":1}`, string(b))
	})

	t.Run("a lost race is replayed against the new value", func(t *testing.T) {
		c, rs := makeClient(t)
		require.NoError(t, c.Set(context.Background(), "doc", []byte("a")))

		// First invocation perturbs the watched key out-of-band so EXEC fails;
		// the replay must observe the perturbed value.
		calls := 0
		got, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			calls++
			if calls == 1 {
				require.NoError(t, rs.Set("test:doc", "b"))
			}
			return append(cur, '+'), nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Equal(t, "b+", string(got))
	})

	t.Run("fn receives the server clock", func(t *testing.T) {
		c, rs := makeClient(t)
		want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		rs.SetTime(want)

		var sawNow time.Time
		_, err := c.AtomicUpdate(context.Background(), "doc", func(cur []byte, now time.Time) ([]byte, error) {
			sawNow = now
			return []byte("x"), nil
		})
		require.NoError(t, err)
		require.Equal(t, want.Unix(), sawNow.Unix())
	})
}

func TestClient_Read(t *testing.T) {
	c, _ := makeClient(t)

	_, err := c.Read(context.Background(), "missing")
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestClient_Subscribe(t *testing.T) {
	c, _ := makeClient(t)

	changes := make(chan []byte, 1)
	stop, err := c.Subscribe(context.Background(), "doc", func(b []byte) {
		changes <- b
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, c.Set(context.Background(), "doc", []byte(`{"v":1}`)))

	select {
	case b := <-changes:
		require.JSONEq(t, `{"v":1}`, string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification received")
	}
}

func TestClient_ServerTime(t *testing.T) {
	c, rs := makeClient(t)

	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rs.SetTime(want)

	got, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Unix(), got.Unix())
}

func makeClient(t *testing.T) (*store.Client, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return store.NewClient(store.Config{
		Redis:  rc,
		Prefix: "test",
	}), rs
}
