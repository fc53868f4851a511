package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tableTestGoroutines = 20
	tableTestIterations = 50
)

var (
	keyAlice = Key{Room: "lobby", User: "alice"}
	keyBob   = Key{Room: "lobby", User: "bob"}
)

func newTestSession(key Key, at time.Time) Session {
	return Session{
		Key:          key,
		Active:       true,
		HandlerID:    "!mines",
		LastActivity: at,
		Payload:      json.RawMessage(`{"eaten":[1]}`),
	}
}

func TestTable_PutAndGet(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Do(func(tx *Tx) {
		tx.Put(newTestSession(keyAlice, now))
	})

	var (
		got Session
		ok  bool
	)
	table.Do(func(tx *Tx) { got, ok = tx.Get(keyAlice) })
	require.True(t, ok)
	assert.Equal(t, "!mines", got.HandlerID)
	assert.JSONEq(t, `{"eaten":[1]}`, string(got.Payload))
	assert.Equal(t, 1, table.Len())
}

func TestTable_PutInactiveDeletes(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Do(func(tx *Tx) {
		tx.Put(newTestSession(keyAlice, now))
		s, _ := tx.Get(keyAlice)
		s.Active = false
		tx.Put(s)
	})

	assert.Equal(t, 0, table.Len())
}

func TestTable_GetReturnsCopy(t *testing.T) {
	table := NewTable()
	table.Do(func(tx *Tx) {
		tx.Put(newTestSession(keyAlice, time.Now()))
		s, _ := tx.Get(keyAlice)
		s.Payload[2] = 'X'
		s.HandlerID = "changed"
	})

	table.Do(func(tx *Tx) {
		s, _ := tx.Get(keyAlice)
		assert.Equal(t, "!mines", s.HandlerID)
		assert.JSONEq(t, `{"eaten":[1]}`, string(s.Payload))
	})
}

func TestTable_PutStoresCopy(t *testing.T) {
	table := NewTable()
	s := newTestSession(keyAlice, time.Now())

	table.Do(func(tx *Tx) { tx.Put(s) })
	s.Payload[2] = 'X'

	table.Do(func(tx *Tx) {
		got, _ := tx.Get(keyAlice)
		assert.JSONEq(t, `{"eaten":[1]}`, string(got.Payload))
	})
}

func TestTable_Idle(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Do(func(tx *Tx) {
		tx.Put(newTestSession(keyAlice, now.Add(-2*time.Minute)))
		tx.Put(newTestSession(keyBob, now))

		idle := tx.Idle(now, 90*time.Second)
		require.Len(t, idle, 1)
		assert.Equal(t, keyAlice, idle[0].Key)
	})
}

func TestTable_RangeAllowsDelete(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Do(func(tx *Tx) {
		tx.Put(newTestSession(keyAlice, now))
		tx.Put(newTestSession(keyBob, now))
		tx.Range(func(s Session) bool {
			tx.Delete(s.Key)
			return true
		})
		assert.Equal(t, 0, tx.Len())
	})
}

func TestTable_ConcurrentAccess(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	wg.Add(tableTestGoroutines)
	for g := range tableTestGoroutines {
		go func() {
			defer wg.Done()
			key := Key{Room: "lobby", User: string(rune('a' + g))}
			for range tableTestIterations {
				table.Do(func(tx *Tx) {
					s, ok := tx.Get(key)
					if !ok {
						s = newTestSession(key, time.Now())
					}
					s.LastActivity = time.Now()
					tx.Put(s)

					var n int
					_, _ = tx.Global().Get("counter", &n)
					_ = tx.Global().Set("counter", n+1)
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, tableTestGoroutines, table.Len())
	table.Do(func(tx *Tx) {
		var n int
		ok, err := tx.Global().Get("counter", &n)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tableTestGoroutines*tableTestIterations, n)
	})
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "lobby/alice", keyAlice.String())
}
