// Command node runs a witnessd peer: it loads configuration, wires the
// transport, storage, mempool, peer manager, node orchestrator, and ops
// HTTP surface together, and blocks until an interrupt signal arrives.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/concilium-chain/witnessd/internal/config"
	"github.com/concilium-chain/witnessd/internal/mempool"
	"github.com/concilium-chain/witnessd/internal/metrics"
	"github.com/concilium-chain/witnessd/internal/nat"
	"github.com/concilium-chain/witnessd/internal/netaddr"
	"github.com/concilium-chain/witnessd/internal/node"
	"github.com/concilium-chain/witnessd/internal/opsserver"
	"github.com/concilium-chain/witnessd/internal/peermanager"
	"github.com/concilium-chain/witnessd/internal/store"
	"github.com/concilium-chain/witnessd/internal/transport"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(os.Getenv("WITNESSD_ENV"))
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	var key *ecdsa.PrivateKey
	if cfg.Witness.Enabled && cfg.Witness.PublicKeyHex != "" {
		// The node only ever needs its own private key to sign witness-round
		// traffic; it is supplied out of band (env var), never in the YAML
		// config alongside the rest of the witness section.
		if hexKey := os.Getenv("WITNESSD_WITNESS_PRIVATE_KEY"); hexKey != "" {
			k, perr := crypto.HexToECDSA(hexKey)
			if perr != nil {
				entry.WithError(perr).Fatal("parse witness private key")
			}
			key = k
		}
	}

	tr := transport.NewTCPTransport(cfg.Network.ListenAddr, cfg.Network.ConnectTimeout)
	st := store.NewMemStore()

	advertise := advertiseAddr(cfg)
	if cfg.Network.EnableNATPMP {
		if mapper, nerr := nat.Discover(); nerr != nil {
			entry.WithError(nerr).Warn("nat discovery failed, keeping configured advertise address")
		} else if merr := mapper.Map(cfg.Network.Port, cfg.Network.Port); merr != nil {
			entry.WithError(merr).Warn("nat port mapping failed, keeping configured advertise address")
		} else {
			advertise = mapper.AdvertiseAddr(cfg.Network.Port)
			entry.WithField("advertise", advertise).Info("mapped external port via nat-pmp/upnp")
		}
	}

	selfAddr, err := netaddr.StrToAddress(advertise)
	if err != nil {
		entry.WithError(err).Fatal("resolve self address")
	}

	pm := peermanager.New(entry, tr, st, selfAddr)
	pool := mempool.New()

	staticSeeds := make([][]byte, 0, len(cfg.Network.StaticSeeds))
	for _, s := range cfg.Network.StaticSeeds {
		addr, serr := netaddr.StrToAddress(s)
		if serr != nil {
			entry.WithError(serr).WithField("seed", s).Warn("skipping unparsable static seed")
			continue
		}
		staticSeeds = append(staticSeeds, addr)
	}

	n := node.New(entry, node.Config{
		SelfAddr:    selfAddr,
		Port:        uint16(cfg.Network.Port),
		DNSSeeds:    cfg.Network.DNSSeeds,
		StaticSeeds: staticSeeds,
	}, key, tr, pm, pool, st, st, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Ops.Enabled {
		ops := opsserver.New(entry, pm, metrics.Registry(), cfg)
		srv := &http.Server{Addr: cfg.Ops.ListenAddr, Handler: ops.Router()}
		go func() {
			if serr := srv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				entry.WithError(serr).Error("ops server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("shutting down")
		cancel()
	}()

	entry.WithField("self", hex.EncodeToString(selfAddr)).Info("starting node")
	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		entry.WithError(err).Fatal("node exited")
	}
}

func advertiseAddr(cfg *config.Config) string {
	if cfg.Network.AdvertiseAddr != "" {
		return cfg.Network.AdvertiseAddr
	}
	return cfg.Network.ListenAddr
}
