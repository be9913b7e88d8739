package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/vocdoni/maci-core/circuits"
	"github.com/vocdoni/maci-core/crypto/cipher"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/log"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

// BatchResult is the outcome of replaying one batch.
type BatchResult struct {
	// BatchIndex is the position of the batch in the message queue, 0 for
	// the oldest messages.
	BatchIndex int
	// BatchStart and BatchEnd delimit the published messages of the batch,
	// BatchEnd excluded.
	BatchStart int
	BatchEnd   int
	Inputs     *circuits.ProcessMessagesInputs
	// Outcomes holds one entry per slot of the batch, in queue order.
	Outcomes []Outcome
}

// initReplay builds the trees replay works on the first time it is needed.
// It requires both queues to be merged.
func (p *Poll) initReplay() error {
	if p.stateTree != nil {
		return nil
	}
	if p.status != StatusMerging || !p.queuesMerged() {
		return fmt.Errorf("%w: queues are not merged", ErrNotReady)
	}

	stateTree, err := tree.NewQuinTree(p.stateTreeDepth, types.StateTreeArity, p.stateQueue.Zero(0))
	if err != nil {
		return err
	}
	for i, leaf := range p.stateLeaves {
		h, err := leaf.Hash()
		if err != nil {
			return fmt.Errorf("state leaf %d: %w", i, err)
		}
		if _, err := stateTree.Insert(h); err != nil {
			return fmt.Errorf("state leaf %d: %w", i, err)
		}
	}
	stateRoot, err := p.stateQueue.Root(p.stateTreeDepth)
	if err != nil {
		return err
	}
	if stateTree.Root().Cmp(stateRoot) != 0 {
		return fmt.Errorf("state tree root does not match the merged state queue")
	}

	blankBallotHash, err := p.blankBallot.Hash()
	if err != nil {
		return fmt.Errorf("blank ballot: %w", err)
	}
	ballotTree, err := tree.NewQuinTree(p.stateTreeDepth, types.StateTreeArity, blankBallotHash)
	if err != nil {
		return err
	}
	ballots := make([]*domain.Ballot, len(p.stateLeaves))
	for i := range ballots {
		ballots[i] = p.blankBallot.Copy()
		if _, err := ballotTree.Insert(blankBallotHash); err != nil {
			return fmt.Errorf("ballot %d: %w", i, err)
		}
	}

	messageTree, err := tree.NewQuinTree(p.treeDepths.MessageTreeDepth, types.MessageTreeArity, types.NothingUpMySleeve)
	if err != nil {
		return err
	}
	for i, msg := range p.messages {
		h, err := msg.Hash(p.encPubKeys[i])
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if _, err := messageTree.Insert(h); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	msgRoot, err := p.messageQueue.Root(p.treeDepths.MessageTreeDepth)
	if err != nil {
		return err
	}
	if messageTree.Root().Cmp(msgRoot) != 0 {
		return fmt.Errorf("message tree root does not match the merged message queue")
	}

	p.stateTree = stateTree
	p.ballotTree = ballotTree
	p.ballots = ballots
	p.messageTree = messageTree
	p.currentBatchStart = (p.totalBatches() - 1) * p.batchSize
	return nil
}

// replayBatch holds the working copies mutated while a batch is replayed.
// They replace the poll state only when the whole batch succeeds.
type replayBatch struct {
	poll         *Poll
	stateLeaves  []*domain.StateLeaf
	ballots      []*domain.Ballot
	stateTree    *tree.QuinTree
	ballotTree   *tree.QuinTree
	zerothLeaf   *domain.StateLeaf
	zerothBallot *domain.Ballot
}

// slotWitness is what the circuit reads for one slot: the state leaf and
// ballot the message applies to, before it is applied.
type slotWitness struct {
	stateLeaf       []*big.Int
	stateLeafPath   [][]*big.Int
	ballot          []*big.Int
	ballotPath      [][]*big.Int
	voteWeight      *big.Int
	voteWeightsPath [][]*big.Int
}

// ProcessMessages replays the next batch, newest batch first and, within a
// batch, from the last slot to the first. Empty slots and rejected messages
// are witnessed with the zeroth state leaf and ballot, which must hash to
// the zero values of their trees; nil selects the blank ones. The poll state
// changes only if the whole batch is replayed: on error or cancellation it
// is left as it was.
func (p *Poll) ProcessMessages(ctx context.Context, zerothStateLeaf *domain.StateLeaf, zerothBallot *domain.Ballot) (*BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusProcessed:
		return nil, ErrNoMoreBatches
	case StatusMerging, StatusProcessing:
	default:
		return nil, fmt.Errorf("%w: poll is %s", ErrNotReady, p.status)
	}
	if err := p.initReplay(); err != nil {
		return nil, err
	}

	if zerothStateLeaf == nil {
		zerothStateLeaf = domain.BlankStateLeaf()
	}
	if zerothBallot == nil {
		zerothBallot = p.blankBallot.Copy()
	}
	if err := p.checkZerothLeaves(zerothStateLeaf, zerothBallot); err != nil {
		return nil, err
	}

	start := p.currentBatchStart
	end := min(start+p.batchSize, len(p.messages))
	batchIndex := start / p.batchSize

	b := &replayBatch{
		poll:         p,
		stateLeaves:  slices.Clone(p.stateLeaves),
		ballots:      slices.Clone(p.ballots),
		stateTree:    p.stateTree.Copy(),
		ballotTree:   p.ballotTree.Copy(),
		zerothLeaf:   zerothStateLeaf,
		zerothBallot: zerothBallot,
	}
	currentStateRoot := p.stateTree.Root()
	currentBallotRoot := p.ballotTree.Root()

	outcomes := make([]Outcome, p.batchSize)
	witnesses := make([]*slotWitness, p.batchSize)
	for slot := p.batchSize - 1; slot >= 0; slot-- {
		if err := ctx.Err(); err != nil {
			log.Warnw("batch processing cancelled", "pollId", p.id, "batch", batchIndex, "error", err.Error())
			return nil, err
		}
		index := start + slot
		outcome, witness, err := b.processSlot(index)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", index, err)
		}
		outcomes[slot] = outcome
		witnesses[slot] = witness
	}

	inputs, err := p.circuitInputs(b, start, end, currentStateRoot, currentBallotRoot, witnesses)
	if err != nil {
		return nil, err
	}

	p.stateLeaves = b.stateLeaves
	p.ballots = b.ballots
	p.stateTree = b.stateTree
	p.ballotTree = b.ballotTree
	p.numBatchesProcessed++
	if start == 0 {
		p.status = StatusProcessed
	} else {
		p.status = StatusProcessing
		p.currentBatchStart -= p.batchSize
	}

	accepted := 0
	for _, o := range outcomes {
		if o.Accepted() {
			accepted++
		}
	}
	log.Infow("batch processed",
		"pollId", p.id,
		"batch", batchIndex,
		"start", start,
		"end", end,
		"accepted", accepted,
		"newStateRoot", b.stateTree.Root().String(),
		"newBallotRoot", b.ballotTree.Root().String())

	return &BatchResult{
		BatchIndex: batchIndex,
		BatchStart: start,
		BatchEnd:   end,
		Inputs:     inputs,
		Outcomes:   outcomes,
	}, nil
}

// checkZerothLeaves ensures the padding leaves hash to the tree zero values.
func (p *Poll) checkZerothLeaves(leaf *domain.StateLeaf, ballot *domain.Ballot) error {
	leafHash, err := leaf.Hash()
	if err != nil {
		return fmt.Errorf("%w: zeroth state leaf: %v", ErrValidation, err)
	}
	if leafHash.Cmp(p.stateTree.Zero(0)) != 0 {
		return fmt.Errorf("%w: zeroth state leaf does not hash to the state tree zero value", ErrValidation)
	}
	if ballot.VoteOptionTreeDepth() != p.treeDepths.VoteOptionTreeDepth {
		return fmt.Errorf("%w: zeroth ballot has a vote option tree of depth %d", ErrValidation, ballot.VoteOptionTreeDepth())
	}
	ballotHash, err := ballot.Hash()
	if err != nil {
		return fmt.Errorf("%w: zeroth ballot: %v", ErrValidation, err)
	}
	if ballotHash.Cmp(p.ballotTree.Zero(0)) != 0 {
		return fmt.Errorf("%w: zeroth ballot does not hash to the ballot tree zero value", ErrValidation)
	}
	return nil
}

// processSlot replays the message at index, or the padding slot if the
// queue ends before it. Rejections are outcomes; the returned error is only
// set when the witness can't be built.
func (b *replayBatch) processSlot(index int) (Outcome, *slotWitness, error) {
	p := b.poll
	if index >= len(p.messages) {
		w, err := b.witness(0, 0, true)
		return Outcome{MessageIndex: index, Kind: domain.KindVote, Rejection: RejectPadding}, w, err
	}
	msg := p.messages[index]
	outcome := Outcome{MessageIndex: index, Kind: msg.Kind}
	cmd, sig, rejection, err := b.command(index, msg)
	if rejection != NotRejected {
		return b.reject(index, outcome, rejection, err)
	}
	switch cmd := cmd.(type) {
	case *domain.VoteCommand:
		return b.processVote(index, cmd, sig, outcome)
	case *domain.TopupCommand:
		return b.processTopup(cmd, outcome)
	default:
		return b.reject(index, outcome, RejectMalformedCommand, nil)
	}
}

// command reads the command carried by the message at index. Vote messages
// are decrypted with the key shared with the coordinator and come with the
// signature of the voter.
func (b *replayBatch) command(index int, msg *domain.Message) (domain.Command, *keys.Signature, Rejection, error) {
	p := b.poll
	switch msg.Kind {
	case domain.KindVote:
		sharedKey, err := p.sharedKey(p.encPubKeys[index])
		if err != nil {
			return nil, nil, RejectCryptoFailure, err
		}
		plaintext, err := p.primitives.Decrypt(msg.Data, sharedKey)
		switch {
		case errors.Is(err, cipher.ErrAuthentication):
			return nil, nil, RejectDecryption, err
		case err != nil:
			return nil, nil, RejectCryptoFailure, err
		}
		cmd, sig, err := domain.VoteCommandFromPlaintext(plaintext)
		if err != nil {
			return nil, nil, RejectMalformedCommand, err
		}
		return cmd, sig, NotRejected, nil
	case domain.KindTopup:
		topup, err := domain.TopupCommandFromMessage(msg)
		if err != nil {
			return nil, nil, RejectMalformedCommand, err
		}
		return topup, nil, NotRejected, nil
	default:
		return nil, nil, RejectMalformedCommand, fmt.Errorf("unknown message kind %d", msg.Kind)
	}
}

// reject records a rejected message, witnessed by the zeroth leaves.
func (b *replayBatch) reject(index int, outcome Outcome, rejection Rejection, err error) (Outcome, *slotWitness, error) {
	outcome.Rejection = rejection
	outcome.StateIndex = 0
	if rejection == RejectCryptoFailure {
		log.Warnw("crypto primitive failed on message", "pollId", b.poll.id, "message", index, "error", fmt.Sprint(err))
	} else {
		log.Debugw("message rejected", "pollId", b.poll.id, "message", index, "reason", rejection.String())
	}
	w, werr := b.witness(0, 0, true)
	return outcome, w, werr
}

func (b *replayBatch) processVote(index int, cmd *domain.VoteCommand, sig *keys.Signature, outcome Outcome) (Outcome, *slotWitness, error) {
	p := b.poll
	if cmd.StateIndex == 0 || cmd.StateIndex >= uint64(len(b.stateLeaves)) {
		return b.reject(index, outcome, RejectInvalidStateIndex, nil)
	}
	if cmd.VoteOptionIndex >= uint64(p.maxValues.MaxVoteOptions) {
		return b.reject(index, outcome, RejectInvalidVoteOption, nil)
	}
	if cmd.PollID != uint64(p.id) {
		return b.reject(index, outcome, RejectInvalidPollID, nil)
	}
	leaf := b.stateLeaves[cmd.StateIndex]
	ballot := b.ballots[cmd.StateIndex]
	if !ballot.Nonce.IsUint64() || cmd.Nonce != ballot.Nonce.Uint64()+1 {
		return b.reject(index, outcome, RejectInvalidNonce, nil)
	}
	cmdHash, err := cmd.Hash()
	if err != nil {
		return b.reject(index, outcome, RejectCryptoFailure, err)
	}
	if !p.primitives.Verify(leaf.PubKey, cmdHash, sig) {
		return b.reject(index, outcome, RejectInvalidSignature, nil)
	}

	// balance + prevWeight^2 - newWeight^2 >= 0
	prevWeight := ballot.Votes[cmd.VoteOptionIndex]
	newWeight := new(big.Int).SetUint64(cmd.NewVoteWeight)
	newBalance := new(big.Int).Mul(prevWeight, prevWeight)
	newBalance.Add(newBalance, leaf.VoiceCreditBalance)
	newBalance.Sub(newBalance, new(big.Int).Mul(newWeight, newWeight))
	if newBalance.Sign() < 0 {
		return b.reject(index, outcome, RejectInsufficientCredits, nil)
	}

	stateIndex := int(cmd.StateIndex)
	witness, err := b.witness(stateIndex, int(cmd.VoteOptionIndex), false)
	if err != nil {
		return outcome, nil, err
	}

	newLeaf := &domain.StateLeaf{
		PubKey:             cmd.NewPubKey.Copy(),
		VoiceCreditBalance: newBalance,
		Timestamp:          new(big.Int).Set(leaf.Timestamp),
	}
	newBallot := ballot.Copy()
	newBallot.Votes[cmd.VoteOptionIndex] = newWeight
	newBallot.Nonce.Add(newBallot.Nonce, big.NewInt(1))
	if err := b.update(stateIndex, newLeaf, newBallot); err != nil {
		return outcome, nil, err
	}
	outcome.StateIndex = cmd.StateIndex
	log.Debugw("vote accepted", "pollId", p.id, "message", index, "stateIndex", stateIndex, "nonce", cmd.Nonce)
	return outcome, witness, nil
}

func (b *replayBatch) processTopup(topup *domain.TopupCommand, outcome Outcome) (Outcome, *slotWitness, error) {
	if topup.StateIndex == 0 || topup.StateIndex >= uint64(len(b.stateLeaves)) || topup.Amount.Sign() <= 0 {
		return b.reject(outcome.MessageIndex, outcome, RejectInvalidTopup, nil)
	}
	stateIndex := int(topup.StateIndex)
	leaf := b.stateLeaves[stateIndex]
	newBalance := new(big.Int).Add(leaf.VoiceCreditBalance, topup.Amount)
	if !types.InField(newBalance) {
		return b.reject(outcome.MessageIndex, outcome, RejectInvalidTopup, nil)
	}
	witness, err := b.witness(stateIndex, 0, false)
	if err != nil {
		return outcome, nil, err
	}
	newLeaf := leaf.Copy()
	newLeaf.VoiceCreditBalance = newBalance
	if err := b.update(stateIndex, newLeaf, b.ballots[stateIndex]); err != nil {
		return outcome, nil, err
	}
	outcome.StateIndex = topup.StateIndex
	log.Debugw("topup accepted", "pollId", b.poll.id, "message", outcome.MessageIndex, "stateIndex", stateIndex, "amount", topup.Amount.String())
	return outcome, witness, nil
}

// witness captures the leaves at stateIndex, with the weight of a vote
// option, before the slot is applied. Zeroth slots use the zeroth leaves
// instead of the ones stored at index 0.
func (b *replayBatch) witness(stateIndex, voteOptionIndex int, zeroth bool) (*slotWitness, error) {
	leaf, ballot := b.stateLeaves[stateIndex], b.ballots[stateIndex]
	if zeroth {
		leaf, ballot = b.zerothLeaf, b.zerothBallot
	}
	statePath, err := b.stateTree.GenMerklePath(stateIndex)
	if err != nil {
		return nil, fmt.Errorf("state leaf path: %w", err)
	}
	ballotPath, err := b.ballotTree.GenMerklePath(stateIndex)
	if err != nil {
		return nil, fmt.Errorf("ballot path: %w", err)
	}
	ballotInputs, err := ballot.AsCircuitInputs()
	if err != nil {
		return nil, err
	}
	voTree, err := ballot.VoteOptionTree()
	if err != nil {
		return nil, err
	}
	voPath, err := voTree.GenMerklePath(voteOptionIndex)
	if err != nil {
		return nil, fmt.Errorf("vote weight path: %w", err)
	}
	return &slotWitness{
		stateLeaf:       leaf.AsCircuitInputs(),
		stateLeafPath:   statePath.PathElements,
		ballot:          ballotInputs,
		ballotPath:      ballotPath.PathElements,
		voteWeight:      new(big.Int).Set(ballot.Votes[voteOptionIndex]),
		voteWeightsPath: voPath.PathElements,
	}, nil
}

// update writes the new leaf and ballot of a participant to the working
// copies.
func (b *replayBatch) update(stateIndex int, leaf *domain.StateLeaf, ballot *domain.Ballot) error {
	leafHash, err := leaf.Hash()
	if err != nil {
		return fmt.Errorf("state leaf hash: %w", err)
	}
	ballotHash, err := ballot.Hash()
	if err != nil {
		return fmt.Errorf("ballot hash: %w", err)
	}
	if err := b.stateTree.Update(stateIndex, leafHash); err != nil {
		return err
	}
	if err := b.ballotTree.Update(stateIndex, ballotHash); err != nil {
		return err
	}
	b.stateLeaves[stateIndex] = leaf
	b.ballots[stateIndex] = ballot
	return nil
}

// sharedKey derives, or reads from the cache, the key shared between the
// coordinator and an ephemeral key.
func (p *Poll) sharedKey(encPubKey *keys.PubKey) (*keys.SharedKey, error) {
	cacheKey := encPubKey.X.String() + "," + encPubKey.Y.String()
	if k, ok := p.sharedKeys.Get(cacheKey); ok {
		return k, nil
	}
	k, err := p.primitives.SharedKey(p.coordinator.PrivKey, encPubKey)
	if err != nil {
		return nil, err
	}
	p.sharedKeys.Add(cacheKey, k)
	return k, nil
}

// circuitInputs assembles the witness of a replayed batch.
func (p *Poll) circuitInputs(
	b *replayBatch,
	start, end int,
	currentStateRoot, currentBallotRoot *big.Int,
	witnesses []*slotWitness,
) (*circuits.ProcessMessagesInputs, error) {
	// the packed end is the index of the last message in the batch
	lastIndex := max(end-1, start)
	packedVals, err := circuits.PackProcessMessageSmallVals(
		uint64(p.maxValues.MaxVoteOptions),
		uint64(p.maxValues.MaxParticipants),
		uint64(start),
		uint64(lastIndex),
	)
	if err != nil {
		return nil, err
	}
	msgRoot, err := p.messageQueue.Root(p.treeDepths.MessageTreeDepth)
	if err != nil {
		return nil, err
	}
	subrootPath, err := p.messageTree.GenSubrootPath(start, start+p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("message sub-root path: %w", err)
	}
	inputHash, err := circuits.ProcessMessagesInputHash(packedVals, p.coordinator.PubKey, msgRoot, currentStateRoot, currentBallotRoot)
	if err != nil {
		return nil, err
	}

	in := &circuits.ProcessMessagesInputs{
		PackedVals:   types.NewBigInt(packedVals),
		CoordPrivKey: types.NewBigInt(p.coordinator.PrivKey.Scalar()),
		CoordPubKey: [2]*types.BigInt{
			types.NewBigInt(p.coordinator.PubKey.X),
			types.NewBigInt(p.coordinator.PubKey.Y),
		},
		MsgRoot:                types.NewBigInt(msgRoot),
		MsgSubrootPathElements: types.Matrix(subrootPath.PathElements, types.NewBigInt),
		CurrentStateRoot:       types.NewBigInt(currentStateRoot),
		CurrentBallotRoot:      types.NewBigInt(currentBallotRoot),
		NewStateRoot:           types.NewBigInt(b.stateTree.Root()),
		NewBallotRoot:          types.NewBigInt(b.ballotTree.Root()),
		InputHash:              types.NewBigInt(inputHash),
	}
	padding := domain.PaddingMessage()
	for slot, w := range witnesses {
		msg, encPubKey := padding, keys.PadKey
		if index := start + slot; index < len(p.messages) {
			msg, encPubKey = p.messages[index], p.encPubKeys[index]
		}
		in.Msgs = append(in.Msgs, types.FromBigInts(msg.AsCircuitInputs()))
		in.EncPubKeys = append(in.EncPubKeys, [2]*types.BigInt{types.NewBigInt(encPubKey.X), types.NewBigInt(encPubKey.Y)})
		in.CurrentStateLeaves = append(in.CurrentStateLeaves, types.FromBigInts(w.stateLeaf))
		in.CurrentStateLeavesPathElements = append(in.CurrentStateLeavesPathElements, types.Matrix(w.stateLeafPath, types.NewBigInt))
		in.CurrentBallots = append(in.CurrentBallots, types.FromBigInts(w.ballot))
		in.CurrentBallotsPathElements = append(in.CurrentBallotsPathElements, types.Matrix(w.ballotPath, types.NewBigInt))
		in.CurrentVoteWeights = append(in.CurrentVoteWeights, types.NewBigInt(w.voteWeight))
		in.CurrentVoteWeightsPathElements = append(in.CurrentVoteWeightsPathElements, types.Matrix(w.voteWeightsPath, types.NewBigInt))
	}
	return in, nil
}
