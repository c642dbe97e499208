package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"chatsync/internal/adapter/repository"
	"chatsync/internal/infrastructure/auth"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/config"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

var peerFlag int64

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a conversation and chat interactively",
	Long: `chat connects to the backend, opens the conversation with --peer and
sends every line typed on stdin. Lines starting with / are commands:

  /list               show conversations with unread counts
  /open <peer>        switch conversation
  /read               mark the open conversation read
  /react <id> <emoji> react to a message
  /reply <id> <text>  reply quoting a message
  /quit               leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Int64Var(&peerFlag, "peer", 0, "User id of the conversation partner (the assistant's id opens the assistant)")
	cobra.CheckErr(chatCmd.MarkFlagRequired("peer"))
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Token == "" {
		return errors.Unauthorized("no token configured, set CHAT_TOKEN or --token", nil)
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if cfg.LogFile == "" {
		logger.SetOutput(cmd.ErrOrStderr())
	}

	principal, err := auth.PrincipalFromToken(cfg.Token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		m = metrics.New(registry)
		go serveMetrics(cfg.MetricsAddr, registry)
	}

	conn := websocket.NewConnection(websocket.ConnectionOptions{
		URL:               cfg.WSURL,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatGrace:    cfg.HeartbeatGrace,
		Metrics:           m,
	})
	rest := repository.NewRESTChatRepository(cfg.APIBaseURL, cfg.Token, cfg.RequestTimeout)

	opts := usecase.SessionOptionsFromConfig(cfg, principal)
	opts.Metrics = m
	session := usecase.NewChatSession(conn, rest, rest, opts)

	if err := conn.Connect(ctx, websocket.Credentials{UserID: principal.UserID, Token: cfg.Token}); err != nil {
		if errors.Is(err, errors.CodeAuthentication) {
			return err
		}
		logger.Warn("Live channel unavailable, messages go over REST: %v", err)
	}
	defer conn.Disconnect()

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	term := newTerminal(cmd.OutOrStdout(), principal.UserID, cfg.AssistantPeerID, cfg.AssistantName)
	go term.render(session.Updates())

	if err := term.open(ctx, session, peerFlag); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runDone:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := term.handle(ctx, session, line)
			if err != nil {
				term.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("Serving client metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics endpoint stopped: %v", err)
	}
}

type commandKind int

const (
	cmdSend commandKind = iota
	cmdQuit
	cmdList
	cmdOpen
	cmdRead
	cmdReact
	cmdReply
)

type command struct {
	kind   commandKind
	peerID int64
	msgID  int64
	text   string
}

// parseCommand turns one input line into a command. Plain text is a send.
func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: cmdSend, text: line}, nil
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/quit", "/q":
		return command{kind: cmdQuit}, nil
	case "/list":
		return command{kind: cmdList}, nil
	case "/read":
		return command{kind: cmdRead}, nil
	case "/open":
		if len(fields) != 2 {
			return command{}, errors.BadRequest("usage: /open <peer>", nil)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return command{}, errors.BadRequest("peer must be a number", err)
		}
		return command{kind: cmdOpen, peerID: id}, nil
	case "/react", "/reply":
		if len(fields) < 3 {
			return command{}, errors.BadRequest("usage: "+fields[0]+" <id> <text>", nil)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return command{}, errors.BadRequest("message id must be a number", err)
		}
		rest := strings.TrimSpace(strings.SplitN(trimmed, fields[1], 2)[1])
		if fields[0] == "/react" {
			return command{kind: cmdReact, msgID: id, text: rest}, nil
		}
		return command{kind: cmdReply, msgID: id, text: rest}, nil
	default:
		return command{}, errors.BadRequest("unknown command "+fields[0], nil)
	}
}
