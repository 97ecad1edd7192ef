package app

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/node"
	"github.com/iconloop/LFT2/model/consensus"
)

// recordFileName is the teacher's RECORD_PATH constant, carried over
// verbatim from original_source/lft/app/app.py.
const recordFileName = "record.log"

// App owns a fixed replica set for the lifetime of one run. The three
// concrete modes (Instant/Record/Replay) differ only in how each Node's
// DelayedEventMediator executor is built and how genesis is supplied,
// mirroring app.py's abstract _start/_gen_nodes split.
type App interface {
	Start() error
	Close()
}

func genesisData(voters []consensus.NodeID) *consensus.Data {
	d, _ := consensus.DefaultDataFactory{}.CreateData(consensus.DataID{}, voters[0], 0, 0, 0, nil)
	return d
}

func wireNodes(nodes []*Node) {
	for _, n := range nodes {
		for _, peer := range nodes {
			if peer != n {
				n.RegisterPeer(peer)
			}
		}
	}
}

func voterIDs(nodes []*Node) []consensus.NodeID {
	ids := make([]consensus.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// InstantApp runs `count` replicas in-process with live timers and no
// record log: the simplest way to exercise the engine end to end.
type InstantApp struct {
	Log   zerolog.Logger
	Count int

	nodes []*Node
}

func NewInstantApp(log zerolog.Logger, count int) *InstantApp {
	return &InstantApp{Log: log, Count: count}
}

func (a *InstantApp) Start() error {
	a.nodes = make([]*Node, a.Count)
	for i := range a.nodes {
		id := consensus.NewNodeID()
		a.nodes[i] = NewNode(id, a.Log, func(system *core.EventSystem) core.Executor {
			return core.NewInstantExecutor(system)
		})
	}
	wireNodes(a.nodes)

	voters := voterIDs(a.nodes)
	genesis := genesisData(voters)
	for _, n := range a.nodes {
		n.Genesis(genesis, voters)
		n.Engine().Start()
	}
	return nil
}

func (a *InstantApp) Close() {
	for _, n := range a.nodes {
		n.Engine().Stop()
	}
}

// Nodes exposes the running replica set, mainly for test harnesses that
// need to inspect per-node committed state.
func (a *InstantApp) Nodes() []*Node { return a.nodes }

// RecordApp runs like InstantApp but additionally appends every
// deterministic delayed event to a per-node record.log under dir, for
// ReplayApp to read back (spec §6). Only events scheduled through the
// DelayedEventMediator are recorded; Data and Votes exchanged between
// nodes are not written to the log.
type RecordApp struct {
	Log   zerolog.Logger
	Count int
	Dir   string

	nodes []*Node
	files []io.Closer
}

func NewRecordApp(log zerolog.Logger, count int, dir string) *RecordApp {
	return &RecordApp{Log: log, Count: count, Dir: dir}
}

func (a *RecordApp) Start() error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return errors.Wrap(err, "could not create record directory")
	}

	a.nodes = make([]*Node, a.Count)
	for i := range a.nodes {
		id := consensus.NewNodeID()
		nodeDir := filepath.Join(a.Dir, id.String())
		if err := os.MkdirAll(nodeDir, 0o755); err != nil {
			return errors.Wrap(err, "could not create node record directory")
		}
		f, err := os.Create(filepath.Join(nodeDir, recordFileName))
		if err != nil {
			return errors.Wrap(err, "could not create record log")
		}
		a.files = append(a.files, f)

		a.nodes[i] = NewNode(id, a.Log, func(system *core.EventSystem) core.Executor {
			writer := core.NewRecordWriter(f)
			return core.NewRecorderExecutor(system, writer)
		})
	}
	wireNodes(a.nodes)

	voters := voterIDs(a.nodes)
	genesis := genesisData(voters)
	if err := WriteGenesisJSON(filepath.Join(a.Dir, "genesis.json"), genesis, voters); err != nil {
		return err
	}
	for _, n := range a.nodes {
		n.Genesis(genesis, voters)
		n.Engine().Start()
	}
	return nil
}

func (a *RecordApp) Close() {
	for _, n := range a.nodes {
		n.Engine().Stop()
	}
	// a node's record.log is only flushed (not fsynced) as events are
	// appended, so a close error here means buffered entries were lost;
	// aggregate across every node's file instead of stopping at the first.
	var merr *multierror.Error
	for _, f := range a.files {
		if err := f.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr != nil {
		a.Log.Error().Err(merr).Msg("error closing record log files")
	}
}

// ReplayApp re-runs a single node with its DelayedEventMediator driven by
// that node's record.log and a virtual clock instead of real timers
// (spec §6). The replayed node has no peers and the log holds no peer
// Data or Votes, so rounds of the recorded run that depended on peer
// messages are not reproduced. It does not derive genesis itself: every
// recorded run's InitializeEvent was non-deterministic and so was never
// written to the log (spec §4.1), so the caller supplies the genesis Data
// and voter set, which Start submits as the node's InitializeEvent.
type ReplayApp struct {
	Log  zerolog.Logger
	Dir  string
	Node string // hex-encoded node id whose record.log to replay

	genesis *consensus.Data
	voters  []consensus.NodeID

	node *Node
	file *os.File
}

func NewReplayApp(log zerolog.Logger, dir, nodeHex string, genesis *consensus.Data, voters []consensus.NodeID) *ReplayApp {
	return &ReplayApp{Log: log, Dir: dir, Node: nodeHex, genesis: genesis, voters: voters}
}

func (a *ReplayApp) Start() error {
	id, err := consensus.NodeIDFromHex(a.Node)
	if err != nil {
		return errors.Wrap(err, "could not parse replayed node id")
	}

	f, err := os.Open(filepath.Join(a.Dir, a.Node, recordFileName))
	if err != nil {
		return errors.Wrap(err, "could not open record log")
	}
	a.file = f

	a.node = NewNode(id, a.Log, func(system *core.EventSystem) core.Executor {
		reader := core.NewRecordReader(f)
		decoders := node.Decoders()
		return core.NewReplayExecutor(system, reader, decoders)
	})
	// a lone node replaying has no live peers to rebroadcast to; its own
	// broadcast output is only ever the echo back to itself.

	a.node.Genesis(a.genesis, a.voters)
	a.node.Engine().Start()
	return nil
}

func (a *ReplayApp) Close() {
	if a.node != nil {
		a.node.Engine().Stop()
	}
	if a.file != nil {
		a.file.Close()
	}
}

// Mode selects which App a CLI invocation constructs (spec §6).
type Mode string

const (
	ModeInstant Mode = "instant"
	ModeRecord  Mode = "record"
	ModeReplay  Mode = "replay"
)

// GenesisJSON is the on-disk shape a replay invocation needs to recover the
// genesis Data and voter set a record run started from, since neither is
// itself ever written to the record log (spec §4.1).
type GenesisJSON struct {
	Genesis *consensus.Data    `json:"genesis"`
	Voters  []consensus.NodeID `json:"voters"`
}

func WriteGenesisJSON(path string, genesis *consensus.Data, voters []consensus.NodeID) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create genesis file")
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(GenesisJSON{Genesis: genesis, Voters: voters})
}

func ReadGenesisJSON(path string) (*consensus.Data, []consensus.NodeID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open genesis file")
	}
	defer f.Close()
	var g GenesisJSON
	if err := json.NewDecoder(f).Decode(&g); err != nil {
		return nil, nil, errors.Wrap(err, "could not decode genesis file")
	}
	return g.Genesis, g.Voters, nil
}
