package main

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-core/circuits"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/internal/testutil"
	"github.com/vocdoni/maci-core/types"
)

// writeLedger writes a ledger as the exporter does, indented JSON.
func writeLedger(c *qt.C, path string, ledger *Ledger) {
	data, err := json.MarshalIndent(ledger, "", "  ")
	c.Assert(err, qt.IsNil)
	c.Assert(os.WriteFile(path, data, 0o644), qt.IsNil)
}

// testLedger returns a ledger with three participants and seven messages,
// two of them rejected on replay. Messages are replayed newest first, so
// higher nonces are published earlier.
func testLedger(c *qt.C) *Ledger {
	coordinator := keys.NewKeypair()
	ledger := &Ledger{CoordinatorPrivKey: coordinator.PrivKey, MaxVoteOptions: 5}
	voters := []*testutil.Voter{testutil.NewVoter(), testutil.NewVoter(), testutil.NewVoter()}
	for i, v := range voters {
		v.StateIndex = uint64(i + 1)
		ledger.SignUps = append(ledger.SignUps, SignUpEntry{
			PubKey:    v.Keypair.PubKey,
			Balance:   types.NewInt(testutil.InitialBalance),
			Timestamp: 1700000000 + int64(i),
		})
	}
	addVote := func(v *testutil.Voter, vote testutil.Vote) {
		msg, encPubKey, err := v.VoteMessage(vote, coordinator.PubKey)
		c.Assert(err, qt.IsNil)
		ledger.Messages = append(ledger.Messages, MessageEntry{
			Kind:      msg.Kind,
			Data:      types.FromBigInts(msg.Data),
			EncPubKey: encPubKey,
		})
	}
	addVote(voters[0], testutil.Vote{VoteOptionIndex: 1, Weight: 9, Nonce: 2})
	addVote(voters[0], testutil.Vote{VoteOptionIndex: 1, Weight: 2, Nonce: 1})
	addVote(voters[1], testutil.Vote{VoteOptionIndex: 2, Weight: 1, Nonce: 2})
	// option out of range
	addVote(voters[2], testutil.Vote{VoteOptionIndex: 5, Weight: 1, Nonce: 1})
	// too expensive
	addVote(voters[2], testutil.Vote{VoteOptionIndex: 0, Weight: 11, Nonce: 1})
	addVote(voters[1], testutil.Vote{VoteOptionIndex: 4, Weight: 3, Nonce: 1})

	topup, err := (&domain.TopupCommand{StateIndex: 2, Amount: big.NewInt(10)}).Message()
	c.Assert(err, qt.IsNil)
	ledger.Messages = append(ledger.Messages, MessageEntry{
		Kind:      topup.Kind,
		Data:      types.FromBigInts(topup.Data),
		EncPubKey: keys.PadKey,
	})
	return ledger
}

func testConfig(c *qt.C, format string) *Config {
	cfg, err := loadConfig([]string{"--input", "ledger.json", "--output", c.TempDir(), "--format", format})
	c.Assert(err, qt.IsNil)
	c.Assert(validateConfig(cfg), qt.IsNil)
	return cfg
}

func readBundle(c *qt.C, path string) *circuits.ProcessMessagesInputs {
	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	in := &circuits.ProcessMessagesInputs{}
	if filepath.Ext(path) == "."+formatCBOR {
		c.Assert(cbor.Unmarshal(data, in), qt.IsNil)
	} else {
		c.Assert(json.Unmarshal(data, in), qt.IsNil)
	}
	return in
}

func TestLoadConfig(t *testing.T) {
	c := qt.New(t)
	cfg, err := loadConfig([]string{"-i", "ledger.json"})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Input, qt.Equals, "ledger.json")
	c.Assert(cfg.Output, qt.Equals, defaultOutput)
	c.Assert(cfg.Format, qt.Equals, formatJSON)
	c.Assert(cfg.Circuit, qt.Equals, "10-2-1-2")
	c.Assert(cfg.Log.Level, qt.Equals, defaultLogLevel)
	c.Assert(validateConfig(cfg), qt.IsNil)

	t.Setenv("MACI_MERGE_OPS", "2")
	t.Setenv("MACI_FORMAT", "cbor")
	cfg, err = loadConfig([]string{"-i", "ledger.json"})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Merge.Ops, qt.Equals, 2)
	c.Assert(cfg.Format, qt.Equals, formatCBOR)

	cfg, err = loadConfig(nil)
	c.Assert(err, qt.IsNil)
	c.Assert(validateConfig(cfg), qt.ErrorMatches, "ledger log is required.*")

	cfg, err = loadConfig([]string{"-i", "ledger.json", "-f", "xml"})
	c.Assert(err, qt.IsNil)
	c.Assert(validateConfig(cfg), qt.ErrorMatches, "invalid format xml.*")

	cfg, err = loadConfig([]string{"-i", "ledger.json", "-c", "1-2-3-4"})
	c.Assert(err, qt.IsNil)
	c.Assert(validateConfig(cfg), qt.ErrorMatches, `unknown circuit "1-2-3-4".*`)
}

func TestLedgerFile(t *testing.T) {
	c := qt.New(t)
	ledger := testLedger(c)
	path := filepath.Join(c.TempDir(), "ledger.json")
	writeLedger(c, path, ledger)

	read, err := readLedger(path)
	c.Assert(err, qt.IsNil)
	c.Assert(read.SignUps, qt.HasLen, 3)
	c.Assert(read.Messages, qt.HasLen, 7)
	c.Assert(read.CoordinatorPrivKey.String(), qt.Equals, ledger.CoordinatorPrivKey.String())
	c.Assert(read.SignUps[1].PubKey.Equal(ledger.SignUps[1].PubKey), qt.IsTrue)
	c.Assert(read.Messages[6].EncPubKey.Equal(keys.PadKey), qt.IsTrue)

	ledger.Messages[0].Data = ledger.Messages[0].Data[:3]
	writeLedger(c, path, ledger)
	_, err = readLedger(path)
	c.Assert(err, qt.ErrorMatches, "invalid ledger.*")

	c.Assert(os.WriteFile(path, []byte(`{"coordinatorPrivKey": "macisk.zz"}`), 0o600), qt.IsNil)
	_, err = readLedger(path)
	c.Assert(err, qt.ErrorMatches, "decode ledger.*")
}

func TestRun(t *testing.T) {
	c := qt.New(t)
	ledger := testLedger(c)

	var roots []*types.BigInt
	for _, format := range []string{formatJSON, formatCBOR} {
		cfg := testConfig(c, format)
		summary, err := run(context.Background(), cfg, ledger)
		c.Assert(err, qt.IsNil)
		c.Assert(summary.NumSignUps, qt.Equals, 4)
		c.Assert(summary.NumMessages, qt.Equals, 7)
		c.Assert(summary.NumAccepted, qt.Equals, 5)
		c.Assert(summary.NumRejected, qt.Equals, 2)
		c.Assert(summary.Batches, qt.HasLen, 2)
		c.Assert(summary.Batches[0].Index, qt.Equals, 1)
		c.Assert(summary.Batches[0].Start, qt.Equals, 5)
		c.Assert(summary.Batches[0].End, qt.Equals, 7)
		c.Assert(summary.Batches[1].Index, qt.Equals, 0)
		roots = append(roots, summary.StateRoot, summary.BallotRoot)

		results := map[int]string{}
		for _, b := range summary.Batches {
			for _, o := range b.Outcomes {
				results[o.Message] = o.Result
			}
		}
		c.Assert(results[3], qt.Equals, "invalid vote option")
		c.Assert(results[4], qt.Equals, "insufficient voice credits")
		c.Assert(results[6], qt.Equals, "accepted")

		var prev *circuits.ProcessMessagesInputs
		for _, b := range summary.Batches {
			in := readBundle(c, filepath.Join(cfg.Output, b.File))
			ok, err := in.VerifyInputHash()
			c.Assert(err, qt.IsNil)
			c.Assert(ok, qt.IsTrue)
			c.Assert(in.MsgRoot.Equal(summary.MessageRoot), qt.IsTrue)
			c.Assert(in.BatchSize(), qt.Equals, 5)
			if prev != nil {
				c.Assert(in.CurrentStateRoot.Equal(prev.NewStateRoot), qt.IsTrue)
				c.Assert(in.CurrentBallotRoot.Equal(prev.NewBallotRoot), qt.IsTrue)
			}
			prev = in
		}
		c.Assert(prev.NewStateRoot.Equal(summary.StateRoot), qt.IsTrue)
		c.Assert(prev.NewBallotRoot.Equal(summary.BallotRoot), qt.IsTrue)

		_, err = os.Stat(filepath.Join(cfg.Output, summaryFile))
		c.Assert(err, qt.IsNil)
	}
	c.Assert(roots[0].Equal(roots[2]), qt.IsTrue)
	c.Assert(roots[1].Equal(roots[3]), qt.IsTrue)
}

func TestRunBoundedMerge(t *testing.T) {
	c := qt.New(t)
	ledger := testLedger(c)
	cfg := testConfig(c, formatJSON)
	all, err := run(context.Background(), cfg, ledger)
	c.Assert(err, qt.IsNil)

	cfg = testConfig(c, formatJSON)
	cfg.Merge.Ops = 1
	bounded, err := run(context.Background(), cfg, ledger)
	c.Assert(err, qt.IsNil)
	c.Assert(bounded.StateRoot.Equal(all.StateRoot), qt.IsTrue)
	c.Assert(bounded.MessageRoot.Equal(all.MessageRoot), qt.IsTrue)
}

func TestRunCancelled(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(ctx, testConfig(c, formatJSON), testLedger(c))
	c.Assert(err, qt.ErrorIs, context.Canceled)
}
