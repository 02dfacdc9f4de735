// Command sqlchaind runs one node of a permissioned SQL blockchain
// network: a WebSocket gossip peer, a proof-of-work miner, and a
// small local admin HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sqlchain/sqlchaind/internal/adminhttp"
	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/chainstore"
	"github.com/sqlchain/sqlchaind/internal/config"
	"github.com/sqlchain/sqlchaind/internal/genesisfile"
	"github.com/sqlchain/sqlchaind/internal/gossip"
	"github.com/sqlchain/sqlchaind/internal/identity"
	"github.com/sqlchain/sqlchaind/internal/ledger"
	"github.com/sqlchain/sqlchaind/internal/miner"
	"github.com/sqlchain/sqlchaind/internal/node"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "keygen":
			runKeygen(os.Args[2:])
			return
		case "admintoken":
			runAdminToken(os.Args[2:])
			return
		}
	}
	runDaemon()
}

// runAdminToken implements the `sqlchaind admintoken <token>`
// subcommand: bcrypt-hashes a plaintext admin bearer token for pasting
// into Config.Admin.TokenHash, so the plaintext never needs to live in
// the node's own config file.
func runAdminToken(args []string) {
	fs := flag.NewFlagSet("admintoken", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlchaind admintoken <token>")
		os.Exit(1)
	}

	hash, err := adminhttp.HashAdminToken(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "admintoken:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

// runKeygen implements the `sqlchaind keygen` subcommand: generate a
// fresh BIP-39 mnemonic and its derived signing key, printed to
// stdout rather than written to a data directory, so an operator can
// choose where to store it.
func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	passphrase := fs.String("passphrase", "", "optional BIP-39 passphrase")
	fs.Parse(args)

	mnemonic, err := identity.GenerateMnemonic()
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
	priv, err := identity.KeyFromMnemonic(mnemonic, *passphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}

	fmt.Println("mnemonic:   ", mnemonic)
	fmt.Println("private key:", priv.Base58Check())
	fmt.Println("public key: ", priv.PublicKey().Base58Check())
}

func runDaemon() {
	var (
		dataDir     = flag.String("data-dir", "~/.sqlchaind", "Data directory")
		configFile  = flag.String("config", "", "Config file path; only its directory is used, the file read is always config.yaml there (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "Gossip listen address, overrides config")
		adminAddr   = flag.String("admin", "", "Admin HTTP address, overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		mine        = flag.Bool("mine", false, "Enable mining on this node")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("sqlchaind %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(filepath.Dir(*configFile))
	} else {
		cfg, err = config.Load(*dataDir)
	}
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Storage.DataDir = *dataDir
	if *listenAddr != "" {
		cfg.Network.ListenAddr = *listenAddr
	}
	if *adminAddr != "" {
		cfg.Admin.ListenAddr = *adminAddr
	}
	cfg.Logging.Level = *logLevel

	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		log.Fatal("failed to create data directory", "error", err)
	}
	log.Info("config loaded", "path", config.Path(*dataDir))

	priv, err := identity.LoadOrCreateKeyFile(filepath.Join(dataPath, cfg.Identity.KeyFile))
	if err != nil {
		log.Fatal("failed to load signing key", "error", err)
	}
	minerID := priv.PublicKey().IdentityHash()
	log.Info("node identity loaded", "miner", minerID.Hex())

	selfUUID, err := identity.LoadOrCreateUUIDFile(filepath.Join(dataPath, cfg.Identity.UUIDFile))
	if err != nil {
		log.Fatal("failed to load gossip identity", "error", err)
	}

	genesis, err := genesisfile.LoadOrCreate(
		filepath.Join(dataPath, cfg.Storage.GenesisFile), cfg.Storage.GenesisSeed, minerID)
	if err != nil {
		log.Fatal("failed to load genesis block", "error", err)
	}

	chain, err := chainstore.Open(filepath.Join(dataPath, "chain.db"), genesis, cfg.Storage.DesiredTimeBetweenBlocks)
	if err != nil {
		log.Fatal("failed to open chain store", "error", err)
	}
	defer chain.Close()
	log.Info("chain store opened", "height", chain.Highest().Index)

	ledgerSvc := ledger.New(chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// n is assigned once Node exists; the miner's mined-callback
	// closes over this variable before it is ever invoked, and the
	// gossip manager, built with a nil delegate, receives n through
	// SetDelegate below.
	var n *node.Node

	mesh := gossip.NewManager(selfUUID, nil, chainmeta.NewPeers(chain.DB()))

	m := miner.New(chain, minerID, func(b *chainblock.Block) {
		if n != nil {
			n.Mined(b)
		}
	})
	m.SetEnabled(*mine)

	n = node.New(node.Config{
		Chain:      chain,
		Ledger:     ledgerSvc,
		Miner:      m,
		Gossip:     mesh,
		ListenPort: advertisePort(cfg),
		OnPeerConnected: func(p *gossip.Peer) {
			log.Info("peer connected", "peer", p.URL)
		},
		OnPeerDisconnected: func(p *gossip.Peer) {
			log.Info("peer disconnected", "peer", p.URL)
		},
	})
	mesh.SetDelegate(n)

	if err := mesh.LoadPersisted(); err != nil {
		log.Warn("failed to load persisted peers", "error", err)
	}
	for _, url := range cfg.Network.BootstrapPeers {
		mesh.Learn(url, true)
	}

	n.Start(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/", mesh.Handler(func(r *http.Request) string {
		return gossip.DefaultPeerURL(r, "ws")
	}))
	gossipServer := &http.Server{Addr: cfg.Network.ListenAddr, Handler: httpMux}
	go func() {
		if err := gossipServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gossip server error", "error", err)
		}
	}()
	log.Info("gossip listener started", "addr", cfg.Network.ListenAddr)

	var admin *adminhttp.Server
	if cfg.Admin.ListenAddr != "" {
		admin = adminhttp.New(n, chain, mesh, cfg.Admin.TokenHash)
		if err := admin.Start(cfg.Admin.ListenAddr); err != nil {
			log.Fatal("failed to start admin http server", "error", err)
		}
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("status", "height", chain.Highest().Index, "peers", len(mesh.Connected()))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()
	n.Stop()
	if admin != nil {
		if err := admin.Stop(); err != nil {
			log.Error("error stopping admin http server", "error", err)
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := gossipServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping gossip server", "error", err)
	}

	log.Info("goodbye")
}

func advertisePort(cfg *config.Config) int {
	if cfg.Network.AdvertisePort != 0 {
		return cfg.Network.AdvertisePort
	}
	return 7654
}
