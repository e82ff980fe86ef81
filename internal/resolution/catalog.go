package resolution

import (
	"context"
	"sync"
)

// StaticCatalog is an in-memory ClusterCatalog. Production deployments
// plug in the shared-index implementation; tests and single-node setups
// seed this one.
type StaticCatalog struct {
	mu       sync.RWMutex
	clusters map[string][]ClusterMember
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{clusters: map[string][]ClusterMember{}}
}

func (c *StaticCatalog) Add(clusterID string, members ...ClusterMember) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clusters[clusterID] = append(c.clusters[clusterID], members...)
}

func (c *StaticCatalog) Members(_ context.Context, clusterID string) ([]ClusterMember, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.clusters[clusterID]
	out := make([]ClusterMember, len(members))
	copy(out, members)
	return out, nil
}

var _ ClusterCatalog = (*StaticCatalog)(nil)
