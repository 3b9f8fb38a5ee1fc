package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"workerlink/registry"
)

// ConsistentHash maps keys to instances on a hash ring, so a project keeps
// attaching to the same worker while the set of workers is unchanged, and
// only the keys of a departed worker move when it goes away.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHash struct {
	replicas int // Virtual nodes per instance
}

// NewConsistentHash uses 100 virtual nodes per instance.
func NewConsistentHash() *ConsistentHash {
	return &ConsistentHash{replicas: 100}
}

type ring struct {
	hashes []uint32
	nodes  map[uint32]int // Hash → index into the instance slice
}

// build places every instance on a fresh ring; each virtual node is hashed
// from "{url}#{i}".
func (b *ConsistentHash) build(instances []registry.Instance) ring {
	r := ring{
		hashes: make([]uint32, 0, len(instances)*b.replicas),
		nodes:  make(map[uint32]int, len(instances)*b.replicas),
	}
	for idx, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.URL, i)))
			if _, taken := r.nodes[hash]; taken {
				continue
			}
			r.hashes = append(r.hashes, hash)
			r.nodes[hash] = idx
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
	return r
}

// Pick returns the instance owning key: the first node at or after the key's
// hash, wrapping around to the start of the ring.
func (b *ConsistentHash) Pick(key string, instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	r := b.build(instances)
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(r.hashes), func(i int) bool {
		return r.hashes[i] >= hash
	})
	if idx == len(r.hashes) {
		idx = 0
	}
	return &instances[r.nodes[r.hashes[idx]]], nil
}

func (b *ConsistentHash) Name() string {
	return "consistent_hash"
}
