package state

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/maci-core/crypto"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/log"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

// sharedKeyCacheSize bounds the number of ECDH shared keys a poll keeps.
const sharedKeyCacheSize = 1024

// Status is the stage of the poll state machine.
type Status int

const (
	// StatusOpen accepts messages.
	StatusOpen Status = iota
	// StatusClosed no longer accepts messages; queues may be merged.
	StatusClosed
	// StatusMerging has started merging its queues.
	StatusMerging
	// StatusProcessing has processed at least one batch.
	StatusProcessing
	// StatusProcessed has processed every batch.
	StatusProcessed
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusMerging:
		return "merging"
	case StatusProcessing:
		return "processing"
	case StatusProcessed:
		return "processed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PollParams configure a new poll.
type PollParams struct {
	// DeployTime is the start of the voting window. The zero value is the
	// time of deployment.
	DeployTime time.Time `validate:"-"`
	// Duration is the length of the voting window.
	Duration   time.Duration    `validate:"gt=0"`
	MaxValues  types.MaxValues  `validate:"required"`
	TreeDepths types.TreeDepths `validate:"required"`
	// BatchSize is the number of message slots of every batch. It must be
	// 5^TreeDepths.MessageTreeSubDepth.
	BatchSize          int                 `validate:"gt=0"`
	CoordinatorKeypair *keys.Keypair       `validate:"required"`
	VerifyingKeys      types.VerifyingKeys `validate:"-"`
}

// validate checks the parameters of a poll deployed on a state tree of the
// given depth.
func (p *PollParams) validate(stateTreeDepth int) error {
	if err := paramsValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPollParams, err)
	}
	if p.CoordinatorKeypair.PrivKey == nil || p.CoordinatorKeypair.PubKey == nil {
		return fmt.Errorf("%w: incomplete coordinator key pair", ErrInvalidPollParams)
	}
	if !p.CoordinatorKeypair.PrivKey.Public().Equal(p.CoordinatorKeypair.PubKey) {
		return fmt.Errorf("%w: coordinator public key does not match its private key", ErrInvalidPollParams)
	}
	d := p.TreeDepths
	if p.BatchSize != types.Pow(types.MessageTreeArity, d.MessageTreeSubDepth) {
		return fmt.Errorf("%w: batch size %d is not %d^%d", ErrInvalidPollParams, p.BatchSize, types.MessageTreeArity, d.MessageTreeSubDepth)
	}
	if p.MaxValues.MaxMessages > types.Pow(types.MessageTreeArity, d.MessageTreeDepth) {
		return fmt.Errorf("%w: %d messages do not fit in a tree of depth %d", ErrInvalidPollParams, p.MaxValues.MaxMessages, d.MessageTreeDepth)
	}
	if p.MaxValues.MaxVoteOptions > types.Pow(types.VoteOptionTreeArity, d.VoteOptionTreeDepth) {
		return fmt.Errorf("%w: %d vote options do not fit in a tree of depth %d", ErrInvalidPollParams, p.MaxValues.MaxVoteOptions, d.VoteOptionTreeDepth)
	}
	if p.MaxValues.MaxParticipants > types.Pow(types.StateTreeArity, stateTreeDepth) {
		return fmt.Errorf("%w: %d participants do not fit in a tree of depth %d", ErrInvalidPollParams, p.MaxValues.MaxParticipants, stateTreeDepth)
	}
	return nil
}

// Poll is a voting round: it collects messages while open and replays them
// in batches once its queues are merged.
type Poll struct {
	mu sync.Mutex

	id             int
	deployTime     time.Time
	duration       time.Duration
	maxValues      types.MaxValues
	treeDepths     types.TreeDepths
	batchSize      int
	stateTreeDepth int
	coordinator    *keys.Keypair
	verifyingKeys  types.VerifyingKeys
	primitives     crypto.Primitives
	sharedKeys     *lru.Cache[string, *keys.SharedKey]

	status       Status
	messages     []*domain.Message
	encPubKeys   []*keys.PubKey
	messageQueue *tree.AccQueue
	stateQueue   *tree.AccQueue

	// state snapshot, then working copies swapped in after every batch
	stateLeaves []*domain.StateLeaf
	ballots     []*domain.Ballot
	messageTree *tree.QuinTree
	stateTree   *tree.QuinTree
	ballotTree  *tree.QuinTree

	blankBallot         *domain.Ballot
	numBatchesProcessed int
	// currentBatchStart is the first message of the next batch to process.
	currentBatchStart int
}

func newPoll(id int, params PollParams, cfg Config, stateQueue *tree.AccQueue, stateLeaves []*domain.StateLeaf) (*Poll, error) {
	messageQueue, err := tree.NewAccQueue(params.TreeDepths.MessageTreeSubDepth, types.MessageTreeArity, types.NothingUpMySleeve)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPollParams, err)
	}
	blankBallot, err := domain.NewBallot(params.MaxValues.MaxVoteOptions, params.TreeDepths.VoteOptionTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPollParams, err)
	}
	sharedKeys, err := lru.New[string, *keys.SharedKey](sharedKeyCacheSize)
	if err != nil {
		return nil, err
	}
	deployTime := params.DeployTime
	if deployTime.IsZero() {
		deployTime = time.Now()
	}
	return &Poll{
		id:             id,
		deployTime:     deployTime,
		duration:       params.Duration,
		maxValues:      params.MaxValues,
		treeDepths:     params.TreeDepths,
		batchSize:      params.BatchSize,
		stateTreeDepth: cfg.StateTreeDepth,
		coordinator:    params.CoordinatorKeypair,
		verifyingKeys:  params.VerifyingKeys,
		primitives:     cfg.Primitives,
		sharedKeys:     sharedKeys,
		status:         StatusOpen,
		messageQueue:   messageQueue,
		stateQueue:     stateQueue,
		stateLeaves:    stateLeaves,
		blankBallot:    blankBallot,
	}, nil
}

// ID returns the poll id.
func (p *Poll) ID() int { return p.id }

// BatchSize returns the number of message slots of a batch.
func (p *Poll) BatchSize() int { return p.batchSize }

// MaxValues returns the size limits of the poll.
func (p *Poll) MaxValues() types.MaxValues { return p.maxValues }

// TreeDepths returns the tree depths of the poll.
func (p *Poll) TreeDepths() types.TreeDepths { return p.treeDepths }

// CoordinatorPubKey returns the public key voters encrypt messages to.
func (p *Poll) CoordinatorPubKey() *keys.PubKey { return p.coordinator.PubKey.Copy() }

// VerifyingKeys returns the verifying keys registered with the poll.
func (p *Poll) VerifyingKeys() types.VerifyingKeys { return p.verifyingKeys }

// DeployTime returns the start of the voting window.
func (p *Poll) DeployTime() time.Time { return p.deployTime }

// Status returns the stage of the poll.
func (p *Poll) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsVotingOpen reports whether the poll accepts messages at the given time.
func (p *Poll) IsVotingOpen(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusOpen && now.Before(p.deployTime.Add(p.duration))
}

// NumSignUps returns the number of participants of the poll, the blank one
// included.
func (p *Poll) NumSignUps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stateLeaves)
}

// NumMessages returns the number of published messages.
func (p *Poll) NumMessages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// PublishMessage appends a message to the queue and returns its index. The
// content is not checked: its validity is decided on replay. Publishing the
// last message allowed closes the poll.
func (p *Poll) PublishMessage(msg *domain.Message, encPubKey *keys.PubKey) (int, error) {
	if msg == nil || encPubKey == nil {
		return 0, fmt.Errorf("%w: nil message or ephemeral key", ErrValidation)
	}
	msg, err := domain.NewMessage(msg.Kind, msg.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !types.InField(encPubKey.X, encPubKey.Y) {
		return 0, fmt.Errorf("%w: ephemeral key coordinates are not field elements", ErrValidation)
	}
	leaf, err := msg.Hash(encPubKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) >= p.maxValues.MaxMessages {
		return 0, ErrTooManyMessages
	}
	if p.status != StatusOpen {
		return 0, ErrPollClosed
	}
	index, err := p.messageQueue.Enqueue(leaf)
	if err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}
	p.messages = append(p.messages, msg)
	p.encPubKeys = append(p.encPubKeys, encPubKey.Copy())
	if len(p.messages) == p.maxValues.MaxMessages {
		p.status = StatusClosed
		log.Infow("poll reached its message limit", "pollId", p.id, "messages", len(p.messages))
	}
	return index, nil
}

// PublishTopup appends a topup of amount voice credits for the participant
// at stateIndex. The index is only checked on replay.
func (p *Poll) PublishTopup(stateIndex uint64, amount *big.Int) (int, error) {
	if amount == nil || amount.Sign() <= 0 || !types.InField(amount) {
		return 0, fmt.Errorf("%w: invalid topup amount", ErrValidation)
	}
	msg, err := (&domain.TopupCommand{StateIndex: stateIndex, Amount: amount}).Message()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p.PublishMessage(msg, keys.PadKey)
}

// Close ends the voting window.
func (p *Poll) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusOpen {
		return fmt.Errorf("%w: poll is %s", ErrNotReady, p.status)
	}
	p.status = StatusClosed
	log.Infow("poll closed", "pollId", p.id, "messages", len(p.messages))
	return nil
}

// MergeMessageQueue merges the message queue to the message tree depth.
// numOps bounds the sub-roots merged in this call, 0 merges all of them. It
// reports whether the root is final.
func (p *Poll) MergeMessageQueue(numOps int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.startMerging(); err != nil {
		return false, err
	}
	return mergeQueue(p.messageQueue, numOps, p.treeDepths.MessageTreeDepth)
}

// MergeStateQueue merges the snapshot of the participant queue to the state
// tree depth. numOps bounds the sub-roots merged in this call, 0 merges all
// of them. It reports whether the root is final.
func (p *Poll) MergeStateQueue(numOps int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.startMerging(); err != nil {
		return false, err
	}
	return mergeQueue(p.stateQueue, numOps, p.stateTreeDepth)
}

// startMerging moves a closed poll to the merging stage.
func (p *Poll) startMerging() error {
	switch p.status {
	case StatusClosed:
		p.status = StatusMerging
		return nil
	case StatusMerging:
		return nil
	default:
		return fmt.Errorf("%w: can't merge a poll that is %s", ErrNotReady, p.status)
	}
}

// queuesMerged reports whether both queues hold their final roots.
func (p *Poll) queuesMerged() bool {
	return p.messageQueue.HasRoot(p.treeDepths.MessageTreeDepth) && p.stateQueue.HasRoot(p.stateTreeDepth)
}

// MessageRoot returns the root of the merged message queue.
func (p *Poll) MessageRoot() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	root, err := p.messageQueue.Root(p.treeDepths.MessageTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return root, nil
}

// StateRoot returns the root of the poll state tree: the merged snapshot
// before replay, the replayed state afterwards.
func (p *Poll) StateRoot() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateTree != nil {
		return p.stateTree.Root(), nil
	}
	root, err := p.stateQueue.Root(p.stateTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return root, nil
}

// BallotRoot returns the root of the ballot tree. It is available once both
// queues are merged.
func (p *Poll) BallotRoot() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initReplay(); err != nil {
		return nil, err
	}
	return p.ballotTree.Root(), nil
}

// TotalBatches returns the number of batches replay goes through. A poll
// without messages still has one batch of padding.
func (p *Poll) TotalBatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBatches()
}

func (p *Poll) totalBatches() int {
	return max(1, (len(p.messages)+p.batchSize-1)/p.batchSize)
}

// NumBatchesProcessed returns the number of batches replayed so far.
func (p *Poll) NumBatchesProcessed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numBatchesProcessed
}

// HasUnprocessedMessages reports whether a batch remains to be replayed.
func (p *Poll) HasUnprocessedMessages() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numBatchesProcessed < p.totalBatches()
}

// MessagesRemaining returns the number of messages not replayed yet.
func (p *Poll) MessagesRemaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.status == StatusProcessed:
		return 0
	case p.stateTree == nil:
		return len(p.messages)
	default:
		return min(p.currentBatchStart+p.batchSize, len(p.messages))
	}
}

// Ballot returns a copy of the ballot of the participant at index.
func (p *Poll) Ballot(index int) (*domain.Ballot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initReplay(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.ballots) {
		return nil, fmt.Errorf("ballot index %d out of range", index)
	}
	return p.ballots[index].Copy(), nil
}

// StateLeaf returns a copy of the participant at index as replayed so far.
func (p *Poll) StateLeaf(index int) (*domain.StateLeaf, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.stateLeaves) {
		return nil, fmt.Errorf("state index %d out of range", index)
	}
	return p.stateLeaves[index].Copy(), nil
}

// Message returns a copy of the published message at index and its
// ephemeral key.
func (p *Poll) Message(index int) (*domain.Message, *keys.PubKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.messages) {
		return nil, nil, fmt.Errorf("message index %d out of range", index)
	}
	return p.messages[index].Copy(), p.encPubKeys[index].Copy(), nil
}
