// Package state implements the participant registry and the poll engine:
// sign-ups, message publication, the merge of the accumulator queues and
// the batch replay that produces the circuit inputs.
package state

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vocdoni/maci-core/crypto"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/log"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

// DefaultMaxVoiceCreditBalance caps the balance of a participant when the
// configuration does not set one.
var DefaultMaxVoiceCreditBalance = new(big.Int).SetUint64(1<<types.PackedValueBits - 1)

var paramsValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is the configuration of a Registry.
type Config struct {
	// StateTreeDepth is the depth of the participant tree.
	StateTreeDepth int `validate:"gt=0,lte=32"`
	// MaxVoiceCreditBalance caps the balance granted at sign-up.
	MaxVoiceCreditBalance *big.Int `validate:"-"`
	// Primitives are the cryptographic operations used by replay.
	Primitives crypto.Primitives `validate:"-"`
}

// Registry keeps the signed-up participants and the deployed polls.
type Registry struct {
	mu          sync.RWMutex
	cfg         Config
	stateQueue  *tree.AccQueue
	stateLeaves []*domain.StateLeaf
	polls       []*Poll
}

// NewRegistry creates a registry holding only the blank participant at
// index 0. Zero configuration values take their defaults.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.StateTreeDepth == 0 {
		cfg.StateTreeDepth = types.DefaultStateTreeDepth
	}
	if cfg.MaxVoiceCreditBalance == nil {
		cfg.MaxVoiceCreditBalance = DefaultMaxVoiceCreditBalance
	}
	if cfg.Primitives == nil {
		cfg.Primitives = crypto.BabyJubJub{}
	}
	if err := paramsValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cfg.MaxVoiceCreditBalance.Sign() < 0 || !types.InField(cfg.MaxVoiceCreditBalance) {
		return nil, fmt.Errorf("%w: invalid maximum voice credit balance", ErrValidation)
	}
	blank := domain.BlankStateLeaf()
	blankHash, err := blank.Hash()
	if err != nil {
		return nil, fmt.Errorf("blank state leaf: %w", err)
	}
	stateQueue, err := tree.NewAccQueue(min(types.StateTreeSubDepth, cfg.StateTreeDepth), types.StateTreeArity, blankHash)
	if err != nil {
		return nil, err
	}
	if _, err := stateQueue.Enqueue(blankHash); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:         cfg,
		stateQueue:  stateQueue,
		stateLeaves: []*domain.StateLeaf{blank},
	}, nil
}

// StateTreeDepth returns the depth of the participant tree.
func (r *Registry) StateTreeDepth() int {
	return r.cfg.StateTreeDepth
}

// SignUp registers a participant and returns its state index. Indexes start
// at 1; index 0 holds the blank participant.
func (r *Registry) SignUp(pubKey *keys.PubKey, balance *big.Int, timestamp time.Time) (int, error) {
	if pubKey == nil {
		return 0, fmt.Errorf("%w: nil public key", ErrValidation)
	}
	if _, err := keys.NewPubKey(pubKey.X, pubKey.Y); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if balance == nil || balance.Sign() < 0 {
		return 0, fmt.Errorf("%w: balance must be non-negative", ErrInvalidBalance)
	}
	if balance.Cmp(r.cfg.MaxVoiceCreditBalance) > 0 {
		return 0, fmt.Errorf("%w: %s exceeds the maximum %s", ErrInvalidBalance, balance, r.cfg.MaxVoiceCreditBalance)
	}
	if timestamp.Unix() < 0 {
		return 0, fmt.Errorf("%w: invalid sign-up timestamp", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stateLeaves) >= types.Pow(types.StateTreeArity, r.cfg.StateTreeDepth) {
		return 0, fmt.Errorf("%w: state tree is full", ErrValidation)
	}
	leaf := domain.NewStateLeaf(pubKey, balance, big.NewInt(timestamp.Unix()))
	h, err := leaf.Hash()
	if err != nil {
		return 0, fmt.Errorf("state leaf hash: %w", err)
	}
	index, err := r.stateQueue.Enqueue(h)
	if err != nil {
		return 0, fmt.Errorf("enqueue state leaf: %w", err)
	}
	r.stateLeaves = append(r.stateLeaves, leaf)
	log.Debugw("participant signed up", "stateIndex", index, "balance", balance.String())
	return index, nil
}

// NumSignUps returns the number of state leaves, the blank one included.
func (r *Registry) NumSignUps() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stateLeaves)
}

// StateLeaf returns a copy of the participant at the given index.
func (r *Registry) StateLeaf(index int) (*domain.StateLeaf, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.stateLeaves) {
		return nil, fmt.Errorf("state index %d out of range", index)
	}
	return r.stateLeaves[index].Copy(), nil
}

// MergeStateQueue merges the participant queue to the state tree depth.
// numOps bounds the sub-roots merged in this call, 0 merges all of them. It
// reports whether the root is final.
func (r *Registry) MergeStateQueue(numOps int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return mergeQueue(r.stateQueue, numOps, r.cfg.StateTreeDepth)
}

// StateRoot returns the root of the participant tree. It requires the queue
// to be merged after the last sign-up.
func (r *Registry) StateRoot() (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, err := r.stateQueue.Root(r.cfg.StateTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return root, nil
}

// DeployPoll creates a poll over a snapshot of the current participants and
// returns its id. Ids are sequential and never reused.
func (r *Registry) DeployPoll(params PollParams) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := params.validate(r.cfg.StateTreeDepth); err != nil {
		return 0, err
	}
	if signUps := len(r.stateLeaves) - 1; signUps > params.MaxValues.MaxParticipants {
		return 0, fmt.Errorf("%w: %d participants signed up, the poll allows %d",
			ErrInvalidPollParams, signUps, params.MaxValues.MaxParticipants)
	}
	leaves := make([]*domain.StateLeaf, len(r.stateLeaves))
	for i, leaf := range r.stateLeaves {
		leaves[i] = leaf.Copy()
	}
	id := len(r.polls)
	poll, err := newPoll(id, params, r.cfg, r.stateQueue.Copy(), leaves)
	if err != nil {
		return 0, err
	}
	r.polls = append(r.polls, poll)
	log.Infow("poll deployed",
		"pollId", id,
		"numSignUps", len(leaves),
		"maxMessages", params.MaxValues.MaxMessages,
		"batchSize", params.BatchSize)
	return id, nil
}

// Poll returns the poll with the given id.
func (r *Registry) Poll(id int) (*Poll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.polls) {
		return nil, fmt.Errorf("%w: %d", ErrPollNotFound, id)
	}
	return r.polls[id], nil
}

// NumPolls returns the number of deployed polls.
func (r *Registry) NumPolls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.polls)
}

// mergeQueue runs both merge phases of a queue, the first one bounded by
// numOps. It reports whether the root at depth is available.
func mergeQueue(q *tree.AccQueue, numOps, depth int) (bool, error) {
	if q.HasRoot(depth) {
		return true, nil
	}
	if err := q.MergeSubRoots(numOps); err != nil {
		return false, fmt.Errorf("merge sub-roots: %w", err)
	}
	if !q.SubTreesMerged() {
		return false, nil
	}
	if err := q.Merge(depth); err != nil {
		return false, fmt.Errorf("merge: %w", err)
	}
	return true, nil
}
