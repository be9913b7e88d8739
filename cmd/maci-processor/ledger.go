package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/types"
)

const defaultVotingPeriod = time.Hour

var ledgerValidator = validator.New(validator.WithRequiredStructEnabled())

// Ledger is the export of a poll as recorded on the ledger: the
// participants, the coordinator key and every published message in order.
type Ledger struct {
	CoordinatorPrivKey *keys.PrivKey `json:"coordinatorPrivKey" validate:"required"`
	// MaxVoteOptions defaults to the capacity of the vote option tree.
	MaxVoteOptions int `json:"maxVoteOptions,omitempty" validate:"gte=0"`
	// DeployTime and VotingPeriod are unix seconds.
	DeployTime   int64          `json:"deployTime,omitempty"`
	VotingPeriod int64          `json:"votingPeriod,omitempty" validate:"gte=0"`
	SignUps      []SignUpEntry  `json:"signUps" validate:"dive"`
	Messages     []MessageEntry `json:"messages" validate:"dive"`
}

// SignUpEntry is a participant registration.
type SignUpEntry struct {
	PubKey    *keys.PubKey  `json:"pubKey" validate:"required"`
	Balance   *types.BigInt `json:"balance" validate:"required"`
	Timestamp int64         `json:"timestamp" validate:"gte=0"`
}

// MessageEntry is a published message and the ephemeral key it was
// published with.
type MessageEntry struct {
	Kind      domain.MessageKind `json:"kind" validate:"oneof=1 2"`
	Data      []*types.BigInt    `json:"data" validate:"len=10,dive,required"`
	EncPubKey *keys.PubKey       `json:"encPubKey" validate:"required"`
}

// Message returns the domain message of the entry.
func (e *MessageEntry) Message() (*domain.Message, error) {
	return domain.NewMessage(e.Kind, types.BigInts(e.Data))
}

// readLedger reads and validates a JSON ledger log.
func readLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	ledger := &Ledger{}
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if err := ledgerValidator.Struct(ledger); err != nil {
		return nil, fmt.Errorf("invalid ledger: %w", err)
	}
	return ledger, nil
}
