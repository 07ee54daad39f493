package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chatlink/chatlink/internal/config"
	"github.com/chatlink/chatlink/internal/store"
	"github.com/chatlink/chatlink/pkg/cluster"
	"github.com/chatlink/chatlink/pkg/gateway"
	"github.com/chatlink/chatlink/pkg/relay"
	"github.com/chatlink/chatlink/pkg/roster"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func initLogger(verbose bool) {
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
}

// consoleDisplay prints synchronized lines for the local console session.
type consoleDisplay struct{}

func (consoleDisplay) Show(text string) {
	fmt.Println(text)
}

// consoleRoster reports the console session's player as the local roster.
type consoleRoster struct {
	player string
}

func (r consoleRoster) ListOnlinePlayers() ([]string, error) {
	return []string{r.player}, nil
}

type chatlinkNode struct {
	cfg      *config.Config
	player   string
	node     *cluster.Node
	router   *relay.Router
	agg      *roster.Aggregator
	gw       *gateway.Client
	bindings *store.Bindings
}

func newChatlinkNode(cfg *config.Config, player string) (*chatlinkNode, error) {
	role := cluster.RoleLeaf
	if cfg.Hub {
		role = cluster.RoleHub
	}
	log.Infof("Initializing %s node %q (hub at %s)", role, cfg.ServerName, cfg.HubAddr())

	a := &chatlinkNode{cfg: cfg, player: player}
	a.node = cluster.NewNode(cluster.Config{
		Role:   role,
		Name:   cfg.ServerName,
		Addr:   cfg.HubAddr(),
		Secret: cfg.Secret,
		Logger: log,
	})

	provider := consoleRoster{player: player}
	deps := relay.Deps{
		Display:  consoleDisplay{},
		Provider: provider,
		Logger:   log,
	}

	if cfg.Hub {
		a.agg = roster.NewAggregator(a.node, provider, cfg.ServerName, log)
		deps.Replies = a.agg

		if cfg.Gateway.Enabled {
			bindings, err := store.Open(cfg.Gateway.BindFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open binding store: %w", err)
			}
			a.bindings = bindings

			a.gw = gateway.NewClient(gateway.Config{
				URL:         cfg.Gateway.URL,
				AccessToken: cfg.Gateway.AccessToken,
				Logger:      log,
			})
			a.gw.OnGroupMessage(a.handleGatewayMessage)
			deps.Gateway = a.gw
		}
	}

	a.router = relay.New(a.node, relay.Options{
		ServerName:       cfg.ServerName,
		ChatToChat:       cfg.Sync.ChatToChat,
		ChatToGateway:    cfg.Sync.ChatToGateway,
		GatewayToChat:    cfg.Sync.GatewayToChat,
		GatewayToGateway: cfg.Sync.GatewayToGateway,
		SyncJoinLeave:    cfg.Sync.JoinLeave,
		SyncDeath:        cfg.Sync.Death,
		SyncAdvancement:  cfg.Sync.Advancement,
		ChatFormat:       cfg.Format.Chat,
		EventFormat:      cfg.Format.Event,
		GatewayFormat:    cfg.Format.Gateway,
		FilterPrefixes:   cfg.Filter.CommandPrefixes,
		MaxMessageLength: cfg.Filter.MaxMessageLength,
		GroupIDs:         cfg.Gateway.GroupIDs,
	}, deps)

	return a, nil
}

func (a *chatlinkNode) start() error {
	a.router.Start()
	if err := a.node.Start(); err != nil {
		return err
	}
	if a.gw != nil {
		a.gw.Start()
	}
	return nil
}

func (a *chatlinkNode) shutdown() {
	if a.gw != nil {
		a.gw.Close()
	}
	a.router.Close()
	a.node.Stop()
}

// handleGatewayMessage processes one inbound gateway group message: slash
// commands are answered on the gateway, everything else is relayed into the
// cluster under the sender's bound player name.
func (a *chatlinkNode) handleGatewayMessage(groupID, userID int64, nickname, text string) {
	uid := strconv.FormatInt(userID, 10)

	if strings.HasPrefix(text, "/") {
		a.handleGatewayCommand(groupID, uid, nickname, strings.TrimPrefix(text, "/"))
		return
	}

	if !groupConfigured(a.cfg.Gateway.GroupIDs, groupID) {
		log.Debugf("Gateway group %d not configured, skipping", groupID)
		return
	}

	name, ok := a.bindings.Lookup(uid)
	if !ok {
		a.replyGateway(groupID, fmt.Sprintf("%s is not bound; use /bind <player name> first", nickname))
		return
	}
	a.router.GatewayInbound(groupID, name, text)
}

func (a *chatlinkNode) handleGatewayCommand(groupID int64, uid, nickname, command string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "bind":
		if len(fields) < 2 {
			a.replyGateway(groupID, "usage: /bind <player name>")
			return
		}
		name := fields[1]
		if len(name) < 3 || len(name) > 16 {
			a.replyGateway(groupID, "player name must be 3-16 characters")
			return
		}
		if bound, ok := a.bindings.Lookup(uid); ok {
			a.replyGateway(groupID, fmt.Sprintf("already bound to %s; /unbind first", bound))
			return
		}
		if a.bindings.NameTaken(name, uid) {
			a.replyGateway(groupID, fmt.Sprintf("%s is already bound by another user", name))
			return
		}
		if err := a.bindings.Bind(uid, name); err != nil {
			log.Errorf("Failed to save binding: %v", err)
			a.replyGateway(groupID, "binding failed")
			return
		}
		a.replyGateway(groupID, fmt.Sprintf("%s bound to player %s", nickname, name))

	case "unbind":
		switch err := a.bindings.Unbind(uid); err {
		case nil:
			a.replyGateway(groupID, "binding removed")
		case store.ErrNotBound:
			a.replyGateway(groupID, "no binding to remove")
		default:
			log.Errorf("Failed to remove binding: %v", err)
			a.replyGateway(groupID, "unbind failed")
		}

	case "list":
		a.replyGateway(groupID, a.agg.QueryAll(a.cfg.QueryTimeout))

	case "help":
		a.replyGateway(groupID, "commands: /bind <player name>, /unbind, /list, /help")

	default:
		a.replyGateway(groupID, fmt.Sprintf("unknown command /%s, try /help", fields[0]))
	}
}

func (a *chatlinkNode) replyGateway(groupID int64, text string) {
	if err := a.gw.SendGroupMessage(groupID, text); err != nil {
		log.Errorf("Failed to reply on gateway: %v", err)
	}
}

func groupConfigured(groups []int64, id int64) bool {
	for _, g := range groups {
		if g == id {
			return true
		}
	}
	return false
}

func main() {
	configPath := flag.String("config", "chatlink.yml", "Path to the configuration file")
	player := flag.String("player", "console", "Player name for the console session")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	initLogger(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := newChatlinkNode(cfg, *player)
	if err != nil {
		log.Fatalf("Failed to initialize node: %v", err)
	}
	if err := a.start(); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	defer a.shutdown()

	a.router.LocalEvent(*player, fmt.Sprintf("%s joined the game", *player), relay.EventJoinLeave)
	defer a.router.LocalEvent(*player, fmt.Sprintf("%s left the game", *player), relay.EventJoinLeave)

	log.Info("chatlink is running; type to chat, /list for rosters, /quit to exit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			log.Infof("Received %v, shutting down", sig)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch {
			case line == "":
			case line == "/quit":
				return
			case line == "/list":
				if a.agg != nil {
					fmt.Println(a.agg.QueryAll(cfg.QueryTimeout))
				} else {
					log.Warn("Roster aggregation runs on the hub only")
				}
			default:
				a.router.LocalChat(*player, line)
			}
		}
	}
}
