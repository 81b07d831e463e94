// Package p2p implements the consensus.Transport over libp2p GossipSub:
// three topics (proposal, prevote, precommit) broadcast between a static
// validator set, plus a transaction-relay topic for client submissions.
// Peer discovery (DHT/mDNS), connection gating, and liveness heartbeats are
// out of scope for a permissioned cluster of known validators; operators
// configure seed addresses directly.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/haschain/miniroha/internal/consensus"
	"github.com/haschain/miniroha/internal/log"
	"github.com/haschain/miniroha/internal/tx"
)

const (
	topicProposal  = "miniroha/consensus/proposal/v1"
	topicPrevote   = "miniroha/consensus/prevote/v1"
	topicPrecommit = "miniroha/consensus/precommit/v1"
	topicTx        = "miniroha/tx/v1"
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	DataDir    string // persists the node's libp2p identity across restarts
}

// Node is a libp2p GossipSub node wired to a consensus.Engine and a
// transaction submission handler.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topicProposal  *pubsub.Topic
	topicPrevote   *pubsub.Topic
	topicPrecommit *pubsub.Topic
	topicTx        *pubsub.Topic

	subProposal  *pubsub.Subscription
	subPrevote   *pubsub.Subscription
	subPrecommit *pubsub.Subscription
	subTx        *pubsub.Subscription

	proposalHandler  func(consensus.Proposal)
	prevoteHandler   func(consensus.PreVote)
	precommitHandler func(consensus.PreCommit)
	txHandler        func(tx.Transaction)
}

var _ consensus.Transport = (*Node)(nil)

// New creates a P2P node. Call Start to bring up the libp2p host.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{config: cfg, ctx: ctx, cancel: cancel}
}

// SetHandlers registers the callbacks invoked when a message arrives from
// a peer. Must be called before Start.
func (n *Node) SetHandlers(onProposal func(consensus.Proposal), onPrevote func(consensus.PreVote), onPrecommit func(consensus.PreCommit), onTx func(tx.Transaction)) {
	n.proposalHandler = onProposal
	n.prevoteHandler = onPrevote
	n.precommitHandler = onPrecommit
	n.txHandler = onTx
}

// Start initializes the libp2p host, GossipSub, joins topics, and connects
// to configured seeds.
func (n *Node) Start() error {
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)
	opts := []libp2p.Option{libp2p.ListenAddrStrings(addr)}

	if n.config.DataDir != "" {
		priv, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	ps, err := pubsub.NewGossipSub(n.ctx, h)
	if err != nil {
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinTopics(); err != nil {
		h.Close()
		return err
	}

	go n.readLoop(n.subProposal, n.handleProposal)
	go n.readLoop(n.subPrevote, n.handlePrevote)
	go n.readLoop(n.subPrecommit, n.handlePrecommit)
	go n.readLoop(n.subTx, n.handleTx)

	n.connectSeeds()
	return nil
}

// Stop tears down subscriptions, topics, and the libp2p host.
func (n *Node) Stop() error {
	n.cancel()
	for _, sub := range []*pubsub.Subscription{n.subProposal, n.subPrevote, n.subPrecommit, n.subTx} {
		if sub != nil {
			sub.Cancel()
		}
	}
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

func (n *Node) joinTopics() error {
	var err error
	if n.topicProposal, err = n.pubsub.Join(topicProposal); err != nil {
		return fmt.Errorf("join proposal topic: %w", err)
	}
	if n.topicPrevote, err = n.pubsub.Join(topicPrevote); err != nil {
		return fmt.Errorf("join prevote topic: %w", err)
	}
	if n.topicPrecommit, err = n.pubsub.Join(topicPrecommit); err != nil {
		return fmt.Errorf("join precommit topic: %w", err)
	}
	if n.topicTx, err = n.pubsub.Join(topicTx); err != nil {
		return fmt.Errorf("join tx topic: %w", err)
	}

	if n.subProposal, err = n.topicProposal.Subscribe(); err != nil {
		return fmt.Errorf("subscribe proposal: %w", err)
	}
	if n.subPrevote, err = n.topicPrevote.Subscribe(); err != nil {
		return fmt.Errorf("subscribe prevote: %w", err)
	}
	if n.subPrecommit, err = n.topicPrecommit.Subscribe(); err != nil {
		return fmt.Errorf("subscribe precommit: %w", err)
	}
	if n.subTx, err = n.topicTx.Subscribe(); err != nil {
		return fmt.Errorf("subscribe tx: %w", err)
	}
	return nil
}

func (n *Node) readLoop(sub *pubsub.Subscription, handler func(*pubsub.Message)) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // context cancelled
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		handler(msg)
	}
}

func (n *Node) handleProposal(msg *pubsub.Message) {
	defer func() { recover() }()
	if n.proposalHandler == nil {
		return
	}
	var p consensus.Proposal
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		log.P2P.Warn().Err(err).Msg("malformed proposal message")
		return
	}
	n.proposalHandler(p)
}

func (n *Node) handlePrevote(msg *pubsub.Message) {
	defer func() { recover() }()
	if n.prevoteHandler == nil {
		return
	}
	var v consensus.PreVote
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		log.P2P.Warn().Err(err).Msg("malformed prevote message")
		return
	}
	n.prevoteHandler(v)
}

func (n *Node) handlePrecommit(msg *pubsub.Message) {
	defer func() { recover() }()
	if n.precommitHandler == nil {
		return
	}
	var c consensus.PreCommit
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		log.P2P.Warn().Err(err).Msg("malformed precommit message")
		return
	}
	n.precommitHandler(c)
}

func (n *Node) handleTx(msg *pubsub.Message) {
	defer func() { recover() }()
	if n.txHandler == nil {
		return
	}
	var t tx.Transaction
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		log.P2P.Warn().Err(err).Msg("malformed relayed transaction")
		return
	}
	n.txHandler(t)
}

// BroadcastProposal publishes a proposal to the proposal topic.
func (n *Node) BroadcastProposal(p consensus.Proposal) error {
	if n.topicProposal == nil {
		return fmt.Errorf("p2p node not started")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	return n.topicProposal.Publish(n.ctx, data)
}

// BroadcastPreVote publishes a prevote to the prevote topic.
func (n *Node) BroadcastPreVote(v consensus.PreVote) error {
	if n.topicPrevote == nil {
		return fmt.Errorf("p2p node not started")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal prevote: %w", err)
	}
	return n.topicPrevote.Publish(n.ctx, data)
}

// BroadcastPreCommit publishes a precommit to the precommit topic.
func (n *Node) BroadcastPreCommit(c consensus.PreCommit) error {
	if n.topicPrecommit == nil {
		return fmt.Errorf("p2p node not started")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal precommit: %w", err)
	}
	return n.topicPrecommit.Publish(n.ctx, data)
}

// BroadcastTx relays a client-submitted transaction to peers.
func (n *Node) BroadcastTx(t tx.Transaction) error {
	if n.topicTx == nil {
		return fmt.Errorf("p2p node not started")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	return n.topicTx.Publish(n.ctx, data)
}

func (n *Node) connectSeeds() {
	for _, s := range n.config.Seeds {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			log.P2P.Warn().Str("seed", s).Err(err).Msg("invalid seed multiaddr")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.P2P.Warn().Str("seed", s).Err(err).Msg("invalid seed peer info")
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			log.P2P.Warn().Str("seed", s).Err(err).Msg("failed to connect to seed")
			continue
		}
		log.P2P.Info().Str("peer", info.ID.String()).Msg("connected to seed")
	}
}

func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "node.key")

	if data, err := os.ReadFile(keyPath); err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal node key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0o600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}
