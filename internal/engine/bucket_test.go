package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1000 * 1000)

func entries(sizes ...int64) []FileEntry {
	files := make([]FileEntry, len(sizes))
	for i, sz := range sizes {
		files[i] = FileEntry{RelPath: fmt.Sprintf("file%03d", i), Size: sz}
	}
	return files
}

func TestPartition_TenEqualFiles(t *testing.T) {
	t.Parallel()

	sizes := make([]int64, 10)
	for i := range sizes {
		sizes[i] = 300 * mb
	}

	buckets, err := Partition(entries(sizes...), 1000*mb)
	require.NoError(t, err)

	require.Len(t, buckets, 4)
	for i, want := range []struct {
		files int
		size  int64
	}{
		{3, 900 * mb}, {3, 900 * mb}, {3, 900 * mb}, {1, 300 * mb},
	} {
		assert.Equal(t, i, buckets[i].ID)
		assert.Len(t, buckets[i].Files, want.files)
		assert.Equal(t, want.size, buckets[i].TotalSize)
	}
}

func TestPartition_OversizedFileIsAlone(t *testing.T) {
	t.Parallel()

	buckets, err := Partition(entries(5000*mb), 1000*mb)
	require.NoError(t, err)

	require.Len(t, buckets, 1)
	assert.Len(t, buckets[0].Files, 1)
	assert.Equal(t, 5000*mb, buckets[0].TotalSize)
}

func TestPartition_OversizedBetweenSmallFiles(t *testing.T) {
	t.Parallel()

	buckets, err := Partition(entries(100, 5000, 100, 100), 1000)
	require.NoError(t, err)

	require.Len(t, buckets, 3)
	assert.Equal(t, int64(100), buckets[0].TotalSize)
	assert.Equal(t, int64(5000), buckets[1].TotalSize)
	assert.Len(t, buckets[1].Files, 1, "oversized file must be alone")
	assert.Equal(t, int64(200), buckets[2].TotalSize)
}

func TestPartition_Empty(t *testing.T) {
	t.Parallel()

	buckets, err := Partition(nil, 1000)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestPartition_InvalidTarget(t *testing.T) {
	t.Parallel()

	for _, target := range []int64{0, -1} {
		_, err := Partition(entries(100), target)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "target %d", target)
	}
}

func TestPartition_ExactFit(t *testing.T) {
	t.Parallel()

	buckets, err := Partition(entries(500, 500, 500), 1000)
	require.NoError(t, err)

	// 500+500 fits exactly; the third file opens a new bucket.
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(1000), buckets[0].TotalSize)
	assert.Equal(t, int64(500), buckets[1].TotalSize)
}

func TestPartition_Invariants(t *testing.T) {
	t.Parallel()

	sizes := []int64{120, 80, 999, 1001, 3, 0, 450, 450, 101, 777, 1, 1000}
	const target = int64(1000)
	files := entries(sizes...)

	buckets, err := Partition(files, target)
	require.NoError(t, err)

	// Completeness: every input file appears exactly once, total size matches.
	var bucketTotal int64
	seen := map[string]int{}
	for i, b := range buckets {
		assert.Equal(t, i, b.ID)

		var sum int64
		for _, f := range b.Files {
			seen[f.RelPath]++
			sum += f.Size
		}
		assert.Equal(t, sum, b.TotalSize)
		bucketTotal += b.TotalSize

		// Cap: removing the last file added keeps the bucket within target.
		if len(b.Files) > 1 {
			last := b.Files[len(b.Files)-1]
			assert.LessOrEqual(t, b.TotalSize-last.Size, target,
				"bucket %d overshoots by more than its last file", b.ID)
		}

		// Oversized isolation.
		if b.TotalSize > target {
			assert.Len(t, b.Files, 1,
				"bucket %d exceeds target but holds multiple files", b.ID)
		}
	}

	var inputTotal int64
	for _, f := range files {
		inputTotal += f.Size
		assert.Equal(t, 1, seen[f.RelPath], "file %s not in exactly one bucket", f.RelPath)
	}
	assert.Equal(t, inputTotal, bucketTotal)
}

func TestPartition_OrderPreserved(t *testing.T) {
	t.Parallel()

	files := entries(400, 400, 400, 400)
	buckets, err := Partition(files, 1000)
	require.NoError(t, err)

	var flat []FileEntry
	for _, b := range buckets {
		flat = append(flat, b.Files...)
	}
	assert.Equal(t, files, flat, "partition must preserve input order")
}
