package csp

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
)

// HashPartition selects which content digest set a hash lands in.
type HashPartition string

const (
	PartitionScripts       HashPartition = "scripts"
	PartitionStyles        HashPartition = "styles"
	PartitionInlineScripts HashPartition = "inline-scripts"
	PartitionInlineStyles  HashPartition = "inline-styles"
)

// HashStore keeps partitioned sets of content digests. Additive only;
// cleared on engine teardown. Set semantics absorb duplicate content.
type HashStore struct {
	mu         sync.Mutex
	partitions map[HashPartition]map[string]struct{}
}

func NewHashStore() *HashStore {
	return &HashStore{
		partitions: map[HashPartition]map[string]struct{}{
			PartitionScripts:       {},
			PartitionStyles:        {},
			PartitionInlineScripts: {},
			PartitionInlineStyles:  {},
		},
	}
}

// Add digests content and records it in partition. Unknown partitions
// are rejected so a typo cannot silently drop a hash.
func (s *HashStore) Add(partition HashPartition, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.partitions[partition]
	if !ok {
		return "", fmt.Errorf("unknown hash partition: %s", partition)
	}
	sum := sha256.Sum256([]byte(content))
	digest := base64.StdEncoding.EncodeToString(sum[:])
	set[digest] = struct{}{}
	return digest, nil
}

// Digests returns the partition's digests sorted for deterministic
// policy compilation.
func (s *HashStore) Digests(partition HashPartition) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.partitions[partition]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Clear empties every partition.
func (s *HashStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.partitions {
		s.partitions[p] = map[string]struct{}{}
	}
}
