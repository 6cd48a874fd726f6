// Package shard maps owners to shard numbers and shard numbers to stores.
package shard

import (
	"hash/fnv"

	"github.com/ryanbastic/go-diary/internal/diary"
)

// ID represents a shard number in [0, NumShards).
type ID int

// ForOwner computes the shard holding an owner's entries. All of one owner's
// entries live on the same shard so id assignment stays local.
func ForOwner(owner diary.Owner, numShards int) ID {
	h := fnv.New32a()
	h.Write(owner[:])
	return ID(h.Sum32() % uint32(numShards))
}

// ForKey computes the shard for an arbitrary string key.
func ForKey(key string, numShards int) ID {
	h := fnv.New32a()
	h.Write([]byte(key))
	return ID(h.Sum32() % uint32(numShards))
}
