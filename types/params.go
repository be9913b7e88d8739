package types

const (
	// StateTreeArity, MessageTreeArity and VoteOptionTreeArity are the
	// branching factors of the trees the circuit verifies.
	StateTreeArity      = 5
	MessageTreeArity    = 5
	VoteOptionTreeArity = 5

	// DefaultStateTreeDepth is the depth of the participant tree.
	DefaultStateTreeDepth = 10
	// StateTreeSubDepth is the sub-tree depth of the participant queue.
	StateTreeSubDepth = 2

	// MessageDataLength is the number of field elements carried by a message.
	MessageDataLength = 10

	// PackedValueBits is the width of every value packed into a single field
	// element (commands and batch small values).
	PackedValueBits = 50

	// MaxTreeDepth bounds the depth of every tree handled by the engine.
	MaxTreeDepth = 32
)

// MaxValues holds the size limits of a poll.
type MaxValues struct {
	MaxParticipants int `json:"maxParticipants" mapstructure:"maxParticipants" validate:"gt=0"`
	MaxMessages     int `json:"maxMessages" mapstructure:"maxMessages" validate:"gt=0"`
	MaxVoteOptions  int `json:"maxVoteOptions" mapstructure:"maxVoteOptions" validate:"gt=0"`
}

// TreeDepths holds the tree depth configuration of a poll. The interim state
// tree depth is carried for the tally circuit, which consumes the ballots
// produced here.
type TreeDepths struct {
	IntStateTreeDepth   int `json:"intStateTreeDepth" mapstructure:"intStateTreeDepth" validate:"gt=0,lte=32"`
	MessageTreeDepth    int `json:"messageTreeDepth" mapstructure:"messageTreeDepth" validate:"gt=0,lte=32"`
	MessageTreeSubDepth int `json:"messageTreeSubDepth" mapstructure:"messageTreeSubDepth" validate:"gt=0,ltefield=MessageTreeDepth"`
	VoteOptionTreeDepth int `json:"voteOptionTreeDepth" mapstructure:"voteOptionTreeDepth" validate:"gt=0,lte=32"`
}

// VerifyingKeys are the serialized verifying keys of the circuits that will
// check the batches of a poll. The engine stores them without interpreting
// them.
type VerifyingKeys struct {
	ProcessMessages HexBytes `json:"processMessages" cbor:"0,keyasint,omitempty"`
	TallyVotes      HexBytes `json:"tallyVotes" cbor:"1,keyasint,omitempty"`
}

// Pow returns base^exp for small non-negative exponents. It saturates at the
// maximum int value instead of overflowing.
func Pow(base, exp int) int {
	const maxInt = int(^uint(0) >> 1)
	r := 1
	for range exp {
		if r > maxInt/base {
			return maxInt
		}
		r *= base
	}
	return r
}
