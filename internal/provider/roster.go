// ABOUTME: Fixed-size agent roster and the per-round speaking order
// ABOUTME: Fixed order repeats the roster; shuffled order permutes it per round, seeded by conversation

package provider

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// Order policies
const (
	OrderFixed    = "fixed"
	OrderShuffled = "shuffled"
)

// ErrEmptyRoster is returned when a roster has no agents
var ErrEmptyRoster = errors.New("roster has no agents")

// Roster assigns agents to message slots. Every round of Size() consecutive
// messages uses each agent exactly once.
type Roster struct {
	agents []Agent
	order  string
}

// NewRoster validates agents and the order policy.
func NewRoster(agents []Agent, order string) (*Roster, error) {
	if len(agents) == 0 {
		return nil, ErrEmptyRoster
	}
	if order == "" {
		order = OrderFixed
	}
	if order != OrderFixed && order != OrderShuffled {
		return nil, fmt.Errorf("unknown roster order %q", order)
	}
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	return &Roster{agents: append([]Agent(nil), agents...), order: order}, nil
}

// Size returns the number of agents, which is also the round length.
func (r *Roster) Size() int { return len(r.agents) }

// Order returns the policy name.
func (r *Roster) Order() string { return r.order }

// Agents returns a copy of the roster in configured order.
func (r *Roster) Agents() []Agent { return append([]Agent(nil), r.agents...) }

// AgentFor returns the agent speaking at orderIndex (1-based) in the given
// conversation. The result only depends on its arguments, so a resumed
// conversation continues with the same speaking order.
func (r *Roster) AgentFor(conversationID string, orderIndex int) Agent {
	n := len(r.agents)
	if orderIndex < 1 {
		orderIndex = 1
	}
	round := (orderIndex - 1) / n
	slot := (orderIndex - 1) % n

	if r.order == OrderFixed {
		return r.agents[slot]
	}
	return r.agents[r.permutation(conversationID, round)[slot]]
}

// Round returns the 0-based round of orderIndex.
func (r *Roster) Round(orderIndex int) int {
	if orderIndex < 1 {
		return 0
	}
	return (orderIndex - 1) / len(r.agents)
}

func (r *Roster) permutation(conversationID string, round int) []int {
	h := fnv.New64a()
	h.Write([]byte(conversationID))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(round)))
	return rng.Perm(len(r.agents))
}
