package state

import (
	"github.com/vocdoni/maci-core/domain"
)

// Rejection is the reason a message left the ballots and the state
// untouched. Rejections are normal outcomes of replay, never errors.
type Rejection int

const (
	// NotRejected marks an accepted message.
	NotRejected Rejection = iota
	// RejectPadding marks an empty slot at the end of the last batch.
	RejectPadding
	// RejectDecryption marks a message the coordinator key does not open.
	RejectDecryption
	// RejectCryptoFailure marks a message on which a primitive failed
	// instead of returning a negative result.
	RejectCryptoFailure
	// RejectMalformedCommand marks a plaintext that is not a command.
	RejectMalformedCommand
	RejectInvalidStateIndex
	RejectInvalidVoteOption
	RejectInvalidPollID
	RejectInvalidNonce
	RejectInvalidSignature
	RejectInsufficientCredits
	RejectInvalidTopup
)

var rejectionNames = map[Rejection]string{
	NotRejected:               "accepted",
	RejectPadding:             "padding",
	RejectDecryption:          "decryption failed",
	RejectCryptoFailure:       "crypto failure",
	RejectMalformedCommand:    "malformed command",
	RejectInvalidStateIndex:   "invalid state index",
	RejectInvalidVoteOption:   "invalid vote option",
	RejectInvalidPollID:       "invalid poll id",
	RejectInvalidNonce:        "invalid nonce",
	RejectInvalidSignature:    "invalid signature",
	RejectInsufficientCredits: "insufficient voice credits",
	RejectInvalidTopup:        "invalid topup",
}

// String returns a human readable reason.
func (r Rejection) String() string {
	if name, ok := rejectionNames[r]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the result of replaying one slot of a batch.
type Outcome struct {
	// MessageIndex is the position of the slot in the message queue.
	// Padding slots lie past the end of the queue.
	MessageIndex int
	Kind         domain.MessageKind
	// StateIndex is the participant the message was applied to, 0 when it
	// was rejected.
	StateIndex uint64
	Rejection  Rejection
}

// Accepted reports whether the message was applied.
func (o Outcome) Accepted() bool {
	return o.Rejection == NotRejected
}
