package yggdrasil

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/gologme/log"
	"github.com/spf13/viper"

	"github.com/yggdrasil-network/yggdrasil-go/src/admin"
	yggConfig "github.com/yggdrasil-network/yggdrasil-go/src/config"
	"github.com/yggdrasil-network/yggdrasil-go/src/core"
	"github.com/yggdrasil-network/yggdrasil-go/src/multicast"
	"github.com/yggdrasil-network/yggstack/src/netstack"
	"github.com/yggdrasil-network/yggstack/src/types"
)

type node struct {
	core      *core.Core
	multicast *multicast.Multicast
	admin     *admin.AdminSocket
	listeners []net.Listener
}

func newLogger() *log.Logger {
	logger := log.New(os.Stdout, "[ygg] ", log.Flags())
	for _, level := range []string{"info", "warn", "error"} {
		logger.EnableLevel(level)
	}
	return logger
}

// readSettings builds a node config from the [yggdrasil] section. auto is
// true when peers should be discovered from the public peer list.
func readSettings(config *viper.Viper) (settings *yggConfig.NodeConfig, auto bool, err error) {
	ygg := config.Sub("yggdrasil")
	if ygg == nil {
		return nil, false, fmt.Errorf("no [yggdrasil] section in config")
	}

	settings = yggConfig.GenerateConfig()
	settings.AdminListen = ygg.GetString("admin_listen")
	settings.Listen = ygg.GetStringSlice("listen")
	settings.AllowedPublicKeys = ygg.GetStringSlice("allowed_public_keys")
	if ygg.GetString("peers") == "auto" {
		auto = true
	} else {
		settings.Peers = ygg.GetStringSlice("peers")
	}

	if path := ygg.GetString("private_key_file"); path != "" {
		priv, err := readPrivateKey(path)
		if err != nil {
			return nil, false, fmt.Errorf("yggdrasil key: %w", err)
		}
		settings.PrivateKeyPath = path
		copy(settings.PrivateKey[:], priv)
		if err := settings.GenerateSelfSignedCertificate(); err != nil {
			return nil, false, fmt.Errorf("failed to generate certificate from private key: %w", err)
		}
	}
	return settings, auto, nil
}

func newCore(settings *yggConfig.NodeConfig, logger *log.Logger) (*core.Core, error) {
	options := []core.SetupOption{
		core.NodeInfo(settings.NodeInfo),
		core.NodeInfoPrivacy(settings.NodeInfoPrivacy),
	}
	for _, addr := range settings.Listen {
		options = append(options, core.ListenAddress(addr))
	}
	for _, peer := range settings.Peers {
		options = append(options, core.Peer{URI: peer})
	}
	for intf, peers := range settings.InterfacePeers {
		for _, peer := range peers {
			options = append(options, core.Peer{URI: peer, SourceInterface: intf})
		}
	}
	for _, allowed := range settings.AllowedPublicKeys {
		k, err := hex.DecodeString(allowed)
		if err != nil {
			return nil, fmt.Errorf("allowed public key %q: %w", allowed, err)
		}
		options = append(options, core.AllowedPublicKey(k))
	}
	return core.New(settings.Certificate, logger, options...)
}

func (n *node) setupAdmin(settings *yggConfig.NodeConfig, logger *log.Logger) error {
	options := []admin.SetupOption{admin.ListenAddress(settings.AdminListen)}
	if settings.LogLookups {
		options = append(options, admin.LogLookups{})
	}
	var err error
	if n.admin, err = admin.New(n.core, logger, options...); err != nil {
		return err
	}
	if n.admin != nil {
		n.admin.SetupAdminHandlers()
	}
	return nil
}

func (n *node) setupMulticast(settings *yggConfig.NodeConfig, logger *log.Logger) error {
	options := []multicast.SetupOption{}
	for _, intf := range settings.MulticastInterfaces {
		options = append(options, multicast.MulticastInterface{
			Regex:    regexp.MustCompile(intf.Regex),
			Beacon:   intf.Beacon,
			Listen:   intf.Listen,
			Port:     intf.Port,
			Priority: uint8(intf.Priority),
			Password: intf.Password,
		})
	}
	var err error
	if n.multicast, err = multicast.New(n.core, logger, options...); err != nil {
		return err
	}
	if n.admin != nil && n.multicast != nil {
		n.multicast.SetupAdminHandlers(n.admin)
	}
	return nil
}

func (n *node) stop() {
	for _, l := range n.listeners {
		_ = l.Close()
	}
	if n.admin != nil {
		_ = n.admin.Stop()
	}
	if n.multicast != nil {
		_ = n.multicast.Stop()
	}
	n.core.Stop()
}

// proxy accepts on l and pipes every connection to whatever dial returns.
func (n *node) proxy(l net.Listener, logger *log.Logger, target string, dial func() (net.Conn, error)) {
	for {
		c, err := l.Accept()
		if err != nil {
			logger.Debugf("Listener for %s closed: %v", target, err)
			return
		}
		r, err := dial()
		if err != nil {
			logger.Errorf("Failed to connect to %s: %s", target, err)
			_ = c.Close()
			continue
		}
		go types.ProxyTCP(n.core.MTU(), c, r)
	}
}

// Run starts the overlay for tendermint p2p traffic. It sends the local
// tendermint listen address and then the rewritten persistent peer list on
// ch, and blocks until ctx is cancelled.
func Run(ctx context.Context, config *viper.Viper, ch chan<- string) error {
	logger := newLogger()

	p2p := config.Sub("p2p")
	if p2p == nil {
		return fmt.Errorf("no [p2p] section in config")
	}
	var remoteTcp types.TCPRemoteMappings
	if err := remoteTcp.Set(p2p.GetString("laddr")); err != nil {
		return fmt.Errorf("p2p.laddr: %w", err)
	}
	parsed, err := ParseEntries(p2p.GetString("persistent_peers"))
	if err != nil {
		logger.Warnf("Ignoring persistent peers: %v", err)
		parsed = nil
	}

	settings, auto, err := readSettings(config)
	if err != nil {
		return err
	}
	if auto {
		settings.Peers = autoPeers(ctx, logger)
	}
	logger.Infof("Yggdrasil peers: %s", settings.Peers)

	n := &node{}
	if n.core, err = newCore(settings, logger); err != nil {
		return fmt.Errorf("start yggdrasil core: %w", err)
	}
	defer n.stop()

	publicstr := hex.EncodeToString(n.core.PublicKey())
	logger.Infof("Your public key is %s", publicstr)
	address, subnet := n.core.Address(), n.core.Subnet()
	logger.Infof("Your IPv6 address is %s", address.String())
	logger.Infof("Your IPv6 subnet is %s", subnet.String())
	logger.Infof("Your Yggstack resolver name is %s%s", publicstr, types.NameMappingSuffix)

	if err := n.setupAdmin(settings, logger); err != nil {
		return fmt.Errorf("admin socket: %w", err)
	}
	if err := n.setupMulticast(settings, logger); err != nil {
		return fmt.Errorf("multicast: %w", err)
	}
	s, err := netstack.CreateYggdrasilNetstack(n.core)
	if err != nil {
		return fmt.Errorf("netstack: %w", err)
	}

	ch <- remoteTcp[0].Mapped.String()

	// Each overlay peer gets a local port that tendermint dials instead.
	var peersList []string
	for _, p := range parsed {
		target, err := p.TCPAddr()
		if !p.IsOverlay() || err != nil {
			logger.Warnf("Skipping peer %s: not a ygg address", p.ID)
			continue
		}
		listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
		if err != nil {
			return fmt.Errorf("local mapping for %s: %w", p.ID, err)
		}
		n.listeners = append(n.listeners, listener)
		realPort := listener.Addr().(*net.TCPAddr).Port
		peersList = append(peersList, fmt.Sprintf("%s@127.0.0.1:%d", p.ID, realPort))

		logger.Infof("Mapping local TCP port %d to Ygg %s", realPort, target.String())
		go n.proxy(listener, logger, target.String(), func() (net.Conn, error) {
			return s.DialTCP(target)
		})
	}
	ch <- strings.Join(peersList, ",")

	for _, mapping := range remoteTcp {
		listener, err := s.ListenTCP(mapping.Listen)
		if err != nil {
			return fmt.Errorf("overlay listener on %d: %w", mapping.Listen.Port, err)
		}
		n.listeners = append(n.listeners, listener)
		logger.Infof("Mapping Yggdrasil TCP port %d to %s", mapping.Listen.Port, mapping.Mapped)
		mapped := mapping.Mapped
		go n.proxy(listener, logger, mapped.String(), func() (net.Conn, error) {
			return net.DialTCP("tcp", nil, mapped)
		})
	}

	<-ctx.Done()
	return nil
}
