package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-core/config"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/log"
	"github.com/vocdoni/maci-core/state"
	"github.com/vocdoni/maci-core/types"
)

const summaryFile = "summary.json"

// Summary describes a finished replay.
type Summary struct {
	Circuit     string         `json:"circuit"`
	NumSignUps  int            `json:"numSignUps"`
	NumMessages int            `json:"numMessages"`
	MessageRoot *types.BigInt  `json:"messageRoot"`
	StateRoot   *types.BigInt  `json:"stateRoot"`
	BallotRoot  *types.BigInt  `json:"ballotRoot"`
	Batches     []BatchSummary `json:"batches"`
	NumAccepted int            `json:"numAccepted"`
	NumRejected int            `json:"numRejected"`
	Elapsed     string         `json:"elapsed"`
}

// BatchSummary describes one written bundle.
type BatchSummary struct {
	Index    int              `json:"index"`
	Start    int              `json:"start"`
	End      int              `json:"end"`
	File     string           `json:"file"`
	Outcomes []OutcomeSummary `json:"outcomes"`
}

// OutcomeSummary is the result of a published message.
type OutcomeSummary struct {
	Message    int    `json:"message"`
	StateIndex uint64 `json:"stateIndex,omitempty"`
	Result     string `json:"result"`
}

// run replays the ledger on a fresh registry and writes a bundle per batch
// to the output directory.
func run(ctx context.Context, cfg *Config, ledger *Ledger) (*Summary, error) {
	started := time.Now()
	circuit, err := config.Circuit(cfg.Circuit)
	if err != nil {
		return nil, err
	}
	registry, err := state.NewRegistry(state.Config{StateTreeDepth: circuit.StateTreeDepth})
	if err != nil {
		return nil, err
	}
	for i, s := range ledger.SignUps {
		if _, err := registry.SignUp(s.PubKey, s.Balance.MathBigInt(), time.Unix(s.Timestamp, 0)); err != nil {
			return nil, fmt.Errorf("sign-up %d: %w", i, err)
		}
	}
	poll, err := deployPoll(registry, circuit, ledger)
	if err != nil {
		return nil, err
	}
	for i, entry := range ledger.Messages {
		msg, err := entry.Message()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if _, err := poll.PublishMessage(msg, entry.EncPubKey); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	if poll.Status() == state.StatusOpen {
		if err := poll.Close(); err != nil {
			return nil, err
		}
	}
	log.Infow("ledger loaded",
		"circuit", cfg.Circuit,
		"signUps", registry.NumSignUps()-1,
		"messages", poll.NumMessages(),
		"batches", poll.TotalBatches())

	if err := mergeQueues(ctx, poll, cfg.Merge.Ops); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	summary := &Summary{
		Circuit:     cfg.Circuit,
		NumSignUps:  poll.NumSignUps(),
		NumMessages: poll.NumMessages(),
	}
	for {
		res, err := poll.ProcessMessages(ctx, nil, nil)
		if errors.Is(err, state.ErrNoMoreBatches) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("process batch: %w", err)
		}
		file, err := writeBundle(cfg.Output, cfg.Format, res)
		if err != nil {
			return nil, err
		}
		batch := BatchSummary{Index: res.BatchIndex, Start: res.BatchStart, End: res.BatchEnd, File: file}
		for _, o := range res.Outcomes {
			if o.Rejection == state.RejectPadding {
				continue
			}
			if o.Accepted() {
				summary.NumAccepted++
			} else {
				summary.NumRejected++
			}
			batch.Outcomes = append(batch.Outcomes, OutcomeSummary{
				Message:    o.MessageIndex,
				StateIndex: o.StateIndex,
				Result:     o.Rejection.String(),
			})
		}
		summary.Batches = append(summary.Batches, batch)
	}

	msgRoot, err := poll.MessageRoot()
	if err != nil {
		return nil, err
	}
	stateRoot, err := poll.StateRoot()
	if err != nil {
		return nil, err
	}
	ballotRoot, err := poll.BallotRoot()
	if err != nil {
		return nil, err
	}
	summary.MessageRoot = types.NewBigInt(msgRoot)
	summary.StateRoot = types.NewBigInt(stateRoot)
	summary.BallotRoot = types.NewBigInt(ballotRoot)
	summary.Elapsed = time.Since(started).String()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(cfg.Output, summaryFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}

// deployPoll deploys the poll of the ledger with the limits of the circuit.
func deployPoll(registry *state.Registry, circuit config.CircuitParams, ledger *Ledger) (*state.Poll, error) {
	maxValues := circuit.MaxValues()
	if ledger.MaxVoteOptions > 0 {
		maxValues.MaxVoteOptions = ledger.MaxVoteOptions
	}
	period := defaultVotingPeriod
	if ledger.VotingPeriod > 0 {
		period = time.Duration(ledger.VotingPeriod) * time.Second
	}
	var deployTime time.Time
	if ledger.DeployTime > 0 {
		deployTime = time.Unix(ledger.DeployTime, 0)
	}
	id, err := registry.DeployPoll(state.PollParams{
		DeployTime:         deployTime,
		Duration:           period,
		MaxValues:          maxValues,
		TreeDepths:         circuit.TreeDepths,
		BatchSize:          circuit.BatchSize(),
		CoordinatorKeypair: keys.KeypairFromPrivKey(ledger.CoordinatorPrivKey),
	})
	if err != nil {
		return nil, fmt.Errorf("deploy poll: %w", err)
	}
	return registry.Poll(id)
}

// mergeQueues merges the state and message queues of the poll, ops
// sub-roots per step.
func mergeQueues(ctx context.Context, poll *state.Poll, ops int) error {
	for _, q := range []struct {
		name  string
		merge func(int) (bool, error)
	}{
		{"state", poll.MergeStateQueue},
		{"message", poll.MergeMessageQueue},
	} {
		for steps := 1; ; steps++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			done, err := q.merge(ops)
			if err != nil {
				return fmt.Errorf("merge %s queue: %w", q.name, err)
			}
			if done {
				log.Debugw("queue merged", "queue", q.name, "steps", steps)
				break
			}
		}
	}
	return nil
}

// writeBundle writes the circuit inputs of a batch and returns the file
// name.
func writeBundle(dir, format string, res *state.BatchResult) (string, error) {
	var data []byte
	var err error
	switch format {
	case formatCBOR:
		data, err = cbor.Marshal(res.Inputs)
	default:
		data, err = json.MarshalIndent(res.Inputs, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("encode batch %d: %w", res.BatchIndex, err)
	}
	name := bundleName(res.BatchIndex, format)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write batch %d: %w", res.BatchIndex, err)
	}
	return name, nil
}

func bundleName(batchIndex int, format string) string {
	return fmt.Sprintf("processMessages_%04d.%s", batchIndex, format)
}
