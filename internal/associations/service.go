// Package associations maintains the associative activation graph over
// memory connections: a derived, rebuildable cache of weighted adjacency
// used by retrieval's association step and refreshed by the consolidator.
// Crash recovery is dropping the cache; the connections table is the only
// source of truth.
package associations

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("associations")

// Edge is one cached outgoing association.
type Edge struct {
	TargetID string
	LinkType string
	Weight   float64 // strength * recency of activation
}

// Activation is one node reached by spreading activation, with the
// accumulated activation energy that reached it.
type Activation struct {
	MemoryID   string
	Activation float64
	Hops       int
}

// Service owns the in-memory adjacency cache.
type Service struct {
	db *database.Database

	mu        sync.RWMutex
	adjacency map[string][]Edge
	builtAt   time.Time
}

// NewService creates an empty (unbuilt) Service; call Rebuild before
// relying on cached reads, or use the Associates fallback which queries
// the store directly when the cache is cold.
func NewService(db *database.Database) *Service {
	return &Service{db: db, adjacency: make(map[string][]Edge)}
}

// activationHalfLifeDays controls how fast an unactivated edge's cached
// weight decays relative to its stored strength.
const activationHalfLifeDays = 30.0

func edgeWeight(c *database.Connection, now time.Time) float64 {
	ageDays := now.Sub(c.LastActivated).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return c.Strength * math.Exp(-math.Ln2*ageDays/activationHalfLifeDays)
}

// Rebuild reloads the adjacency cache from the connections table. Returns
// the number of edges cached.
func (s *Service) Rebuild(now time.Time) (int, error) {
	rows, err := s.db.Query(`
		SELECT source_id, target_id, strength, link_type, created_at, last_activated, activation_count
		FROM connections`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	adjacency := make(map[string][]Edge)
	count := 0
	for rows.Next() {
		var c database.Connection
		if err := rows.Scan(&c.SourceID, &c.TargetID, &c.Strength, &c.LinkType,
			&c.CreatedAt, &c.LastActivated, &c.ActivationCount); err != nil {
			return 0, err
		}
		adjacency[c.SourceID] = append(adjacency[c.SourceID], Edge{
			TargetID: c.TargetID,
			LinkType: c.LinkType,
			Weight:   edgeWeight(&c, now),
		})
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, edges := range adjacency {
		sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	}

	s.mu.Lock()
	s.adjacency = adjacency
	s.builtAt = now
	s.mu.Unlock()

	log.Debug("association cache rebuilt", "edges", count, "sources", len(adjacency))
	return count, nil
}

// BuiltAt reports when the cache was last rebuilt (zero if never).
func (s *Service) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}

// Associates returns the top-k outgoing associations for id from the
// cache, falling back to a direct store query when the cache is cold.
func (s *Service) Associates(id string, k int) ([]Edge, error) {
	if k <= 0 {
		k = 3
	}

	s.mu.RLock()
	edges, cached := s.adjacency[id]
	cold := s.builtAt.IsZero()
	s.mu.RUnlock()

	if cached {
		if len(edges) > k {
			edges = edges[:k]
		}
		return append([]Edge(nil), edges...), nil
	}
	if !cold {
		return nil, nil // warm cache, genuinely no edges
	}

	conns, err := database.GetOutboundConnections(s.db, id, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]Edge, 0, len(conns))
	for _, c := range conns {
		out = append(out, Edge{TargetID: c.TargetID, LinkType: c.LinkType, Weight: edgeWeight(c, now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Spread performs bounded breadth-first activation from the seed nodes:
// each hop attenuates the carried activation by the edge weight, and the
// walk stops at maxHops or once maxNodes distinct nodes have been visited.
func (s *Service) Spread(seeds []string, maxHops, maxNodes int) []Activation {
	if maxHops <= 0 {
		maxHops = 2
	}
	if maxNodes <= 0 {
		maxNodes = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type frontierItem struct {
		id         string
		activation float64
		hops       int
	}

	visited := make(map[string]float64)
	var order []string
	frontier := make([]frontierItem, 0, len(seeds))
	for _, id := range seeds {
		frontier = append(frontier, frontierItem{id: id, activation: 1.0, hops: 0})
	}

	for len(frontier) > 0 && len(visited) < maxNodes {
		next := frontier[0]
		frontier = frontier[1:]

		if prev, seen := visited[next.id]; seen {
			if next.activation > prev {
				visited[next.id] = next.activation
			}
			continue
		}
		visited[next.id] = next.activation
		order = append(order, next.id)

		if next.hops >= maxHops {
			continue
		}
		for _, e := range s.adjacency[next.id] {
			frontier = append(frontier, frontierItem{
				id:         e.TargetID,
				activation: next.activation * e.Weight,
				hops:       next.hops + 1,
			})
		}
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		seedSet[id] = true
	}

	out := make([]Activation, 0, len(order))
	for _, id := range order {
		if seedSet[id] {
			continue
		}
		out = append(out, Activation{MemoryID: id, Activation: visited[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Activation > out[j].Activation })
	return out
}

// Link records an association between two memories.
func (s *Service) Link(sourceID, targetID, linkType string, strength float64) error {
	return database.SaveConnection(s.db, &database.Connection{
		SourceID: sourceID,
		TargetID: targetID,
		LinkType: linkType,
		Strength: strength,
	})
}

// Prune deletes connections whose strength is below floor and whose last
// activation is older than horizon, returning how many were removed. Used
// by the consolidator's final phase.
func (s *Service) Prune(floor float64, horizon time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-horizon)
	res, err := s.db.Exec(
		"DELETE FROM connections WHERE strength < ? AND last_activated < ?", floor, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
