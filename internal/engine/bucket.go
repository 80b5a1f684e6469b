package engine

import "fmt"

// Partition splits files into size-balanced buckets using deterministic
// greedy first-fit in input order. Input order is preserved (not sorted)
// so that output is reproducible for a given scan order and files keep
// their discovery locality.
//
// A file is appended to the open bucket if it fits under targetBytes, or
// unconditionally if the bucket is empty — so a single file larger than
// the target occupies its own bucket, which may exceed the target but
// never splits a file. Otherwise the open bucket is closed and a new one
// starts with the file.
func Partition(files []FileEntry, targetBytes int64) ([]Bucket, error) {
	if targetBytes <= 0 {
		return nil, &ConfigError{
			Reason: fmt.Sprintf("bucket size must be positive, got %d", targetBytes),
		}
	}

	var buckets []Bucket
	open := Bucket{}

	for _, f := range files {
		if len(open.Files) > 0 && open.TotalSize+f.Size > targetBytes {
			buckets = append(buckets, open)
			open = Bucket{ID: len(buckets)}
		}
		open.Files = append(open.Files, f)
		open.TotalSize += f.Size
	}

	if len(open.Files) > 0 {
		buckets = append(buckets, open)
	}

	return buckets, nil
}
