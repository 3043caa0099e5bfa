package htable

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zeebo/pmap/internal/assert"
)

func newTable(t *testing.T) *Table {
	path := filepath.Join(t.TempDir(), "region.pm")
	tbl, err := Build(Config{
		TaskNum:          8,
		PersistPath:      path,
		PersistSizeBytes: 16 << 20,
		Buckets:          101,
	})
	assert.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })

	for i := 0; i < 8; i++ {
		assert.NoError(t, tbl.InitThread(i))
	}
	return tbl
}

func TestScenarioS1(t *testing.T) {
	tbl := newTable(t)

	ok, err := tbl.Insert("a", "1", 0)
	assert.NoError(t, err)
	assert.That(t, ok)

	ok, err = tbl.Insert("a", "2", 0)
	assert.NoError(t, err)
	assert.That(t, !ok)

	v, found := tbl.Get("a", 0)
	assert.That(t, found)
	assert.Equal(t, v, "1")
}

func TestScenarioS2(t *testing.T) {
	tbl := newTable(t)
	_, err := tbl.Insert("a", "1", 0)
	assert.NoError(t, err)

	prior, had, err := tbl.Put("a", "2", 0)
	assert.NoError(t, err)
	assert.That(t, had)
	assert.Equal(t, prior, "1")

	v, found := tbl.Get("a", 0)
	assert.That(t, found)
	assert.Equal(t, v, "2")
}

func TestScenarioS3(t *testing.T) {
	tbl := newTable(t)
	_, err := tbl.Insert("a", "1", 0)
	assert.NoError(t, err)
	_, err = tbl.Insert("b", "2", 0)
	assert.NoError(t, err)

	prior, had, err := tbl.Remove("a", 0)
	assert.NoError(t, err)
	assert.That(t, had)
	assert.Equal(t, prior, "1")

	_, found := tbl.Get("a", 0)
	assert.That(t, !found)

	v, found := tbl.Get("b", 0)
	assert.That(t, found)
	assert.Equal(t, v, "2")
}

func TestReplaceRequiresPresence(t *testing.T) {
	tbl := newTable(t)

	_, had, err := tbl.Replace("missing", "v", 0)
	assert.NoError(t, err)
	assert.That(t, !had)

	_, err = tbl.Insert("k", "v1", 0)
	assert.NoError(t, err)

	prior, had, err := tbl.Replace("k", "v2", 0)
	assert.NoError(t, err)
	assert.That(t, had)
	assert.Equal(t, prior, "v1")

	v, found := tbl.Get("k", 0)
	assert.That(t, found)
	assert.Equal(t, v, "v2")
}

func TestRecoveryRebuildsLiveKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.pm")
	cfg := Config{TaskNum: 4, PersistPath: path, PersistSizeBytes: 16 << 20, Buckets: 101}

	tbl, err := Build(cfg)
	assert.NoError(t, err)
	assert.NoError(t, tbl.InitThread(0))

	_, err = tbl.Insert("a", "1", 0)
	assert.NoError(t, err)
	_, err = tbl.Insert("b", "2", 0)
	assert.NoError(t, err)
	_, _, err = tbl.Remove("a", 0)
	assert.NoError(t, err)
	assert.NoError(t, tbl.region.Sync())
	assert.NoError(t, tbl.Close())

	tbl2, err := Build(cfg)
	assert.NoError(t, err)
	assert.NoError(t, tbl2.InitThread(0))
	defer tbl2.Close()

	_, found := tbl2.Get("a", 0)
	assert.That(t, !found)
	v, found := tbl2.Get("b", 0)
	assert.That(t, found)
	assert.Equal(t, v, "2")
}

func TestConcurrentInsertRemove(t *testing.T) {
	tbl := newTable(t)

	const threads = 8
	const keys = 200

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := tid; i < keys; i += threads {
				k := fmt.Sprintf("key-%d", i)
				_, err := tbl.Insert(k, "v", tid)
				assert.NoError(t, err)
			}
		}(tid)
	}
	wg.Wait()

	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		v, found := tbl.Get(k, 0)
		assert.That(t, found)
		assert.Equal(t, v, "v")
	}

	wg = sync.WaitGroup{}
	for tid := 0; tid < threads; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := tid; i < keys; i += threads {
				k := fmt.Sprintf("key-%d", i)
				_, _, err := tbl.Remove(k, tid)
				assert.NoError(t, err)
			}
		}(tid)
	}
	wg.Wait()

	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		_, found := tbl.Get(k, 0)
		assert.That(t, !found)
	}
}
