package shard

import (
	"encoding/binary"
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
)

// RingMapper implements consistent hashing over a crc32 ring with virtual nodes.
//
// Every shard index contributes virtualNodes points to the ring; a key is owned
// by the first point clockwise from its own hash. Growing from n to n+1 shards
// moves roughly 1/(n+1) of the keys, all of them onto the new shard.
//
// Rings are built lazily and cached per shard count. The cache only saves work:
// a ring depends on nothing but (count, virtualNodes), so results are identical
// with or without it.
type RingMapper struct {
	virtualNodes int

	mu    sync.RWMutex
	rings map[int]*hashRing
}

type ringPoint struct {
	hash  uint32
	index int
}

type hashRing struct {
	points []ringPoint
}

// NewRingMapper creates a consistent-hash mapper. virtualNodes <= 0 selects
// DefaultVirtualNodes.
func NewRingMapper(virtualNodes int) *RingMapper {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &RingMapper{
		virtualNodes: virtualNodes,
		rings:        make(map[int]*hashRing),
	}
}

func (m *RingMapper) Policy() string { return PolicyConsistentHash }

// VirtualNodes returns the number of ring points per shard.
func (m *RingMapper) VirtualNodes() int { return m.virtualNodes }

func (m *RingMapper) ShardForKey(key Key, count int) (int, error) {
	if err := checkCount(count); err != nil {
		return 0, err.WithKey(key)
	}
	if count == 1 {
		return 0, nil
	}

	ring := m.ring(count)
	h := hashKey(key)
	i := sort.Search(len(ring.points), func(i int) bool { return ring.points[i].hash >= h })
	if i == len(ring.points) {
		i = 0
	}
	return ring.points[i].index, nil
}

func (m *RingMapper) ring(count int) *hashRing {
	m.mu.RLock()
	r, ok := m.rings[count]
	m.mu.RUnlock()
	if ok {
		return r
	}

	r = buildRing(count, m.virtualNodes)

	m.mu.Lock()
	if existing, ok := m.rings[count]; ok {
		r = existing
	} else {
		m.rings[count] = r
	}
	m.mu.Unlock()
	return r
}

func buildRing(count, virtualNodes int) *hashRing {
	points := make([]ringPoint, 0, count*virtualNodes)
	buf := make([]byte, 0, 32)
	for index := 0; index < count; index++ {
		for v := 0; v < virtualNodes; v++ {
			buf = buf[:0]
			buf = append(buf, "shard-"...)
			buf = strconv.AppendInt(buf, int64(index), 10)
			buf = append(buf, '#')
			buf = strconv.AppendInt(buf, int64(v), 10)
			points = append(points, ringPoint{hash: mix32(crc32.ChecksumIEEE(buf)), index: index})
		}
	}

	// Ties on the hash are broken by index so the ring is fully determined by its inputs.
	sort.Slice(points, func(i, j int) bool {
		if points[i].hash != points[j].hash {
			return points[i].hash < points[j].hash
		}
		return points[i].index < points[j].index
	})
	return &hashRing{points: points}
}

func hashKey(key Key) uint32 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(key))
	return mix32(crc32.ChecksumIEEE(b[:]))
}

// mix32 is the murmur3 finalizer. crc32 is linear, so nearby inputs produce
// correlated checksums; the finalizer spreads them over the ring.
func mix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
