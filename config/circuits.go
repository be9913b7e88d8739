// Package config holds the named circuit parameter sets a coordinator can
// deploy polls with.
package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vocdoni/maci-core/types"
)

// CircuitParams is the shape of the message processing circuit: the trees it
// verifies and the number of messages it takes per batch.
type CircuitParams struct {
	StateTreeDepth int
	TreeDepths     types.TreeDepths
}

// BatchSize returns the number of messages of a batch.
func (p CircuitParams) BatchSize() int {
	return types.Pow(types.MessageTreeArity, p.TreeDepths.MessageTreeSubDepth)
}

// MaxValues returns the largest limits the trees can hold. The blank leaf
// takes one slot of the state tree.
func (p CircuitParams) MaxValues() types.MaxValues {
	return types.MaxValues{
		MaxParticipants: types.Pow(types.StateTreeArity, p.StateTreeDepth) - 1,
		MaxMessages:     types.Pow(types.MessageTreeArity, p.TreeDepths.MessageTreeDepth),
		MaxVoteOptions:  types.Pow(types.VoteOptionTreeArity, p.TreeDepths.VoteOptionTreeDepth),
	}
}

// Circuits contains the known circuit parameter sets by name. Names read
// stateTreeDepth-messageTreeDepth-messageTreeSubDepth-voteOptionTreeDepth.
var Circuits = map[string]CircuitParams{
	"10-2-1-2": {
		StateTreeDepth: 10,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   1,
			MessageTreeDepth:    2,
			MessageTreeSubDepth: 1,
			VoteOptionTreeDepth: 2,
		},
	},
	"6-9-2-3": {
		StateTreeDepth: 6,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   2,
			MessageTreeDepth:    9,
			MessageTreeSubDepth: 2,
			VoteOptionTreeDepth: 3,
		},
	},
	"14-9-2-3": {
		StateTreeDepth: 14,
		TreeDepths: types.TreeDepths{
			IntStateTreeDepth:   5,
			MessageTreeDepth:    9,
			MessageTreeSubDepth: 2,
			VoteOptionTreeDepth: 3,
		},
	},
}

// DefaultCircuit is the parameter set used when none is given.
const DefaultCircuit = "10-2-1-2"

// AvailableCircuits returns the names of the known parameter sets, sorted.
func AvailableCircuits() []string {
	return slices.Sorted(maps.Keys(Circuits))
}

// Circuit returns the parameter set with the given name.
func Circuit(name string) (CircuitParams, error) {
	params, ok := Circuits[name]
	if !ok {
		return CircuitParams{}, fmt.Errorf("unknown circuit %q, available circuits: %v", name, AvailableCircuits())
	}
	return params, nil
}
