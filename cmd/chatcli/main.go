package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"sudooom.im.client/api"
	"sudooom.im.client/auth"
	"sudooom.im.client/chat"
	"sudooom.im.client/config"
	"sudooom.im.client/connection"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
	"sudooom.im.client/reconcile"
	"sudooom.im.client/transport"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "配置文件路径")
	userId := flag.Int64("user", 0, "用户 ID")
	secret := flag.String("secret", "", "开发模式 token 密钥，与 relay 一致")
	flag.Parse()

	if *userId <= 0 {
		log.Fatal("missing -user")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	tokenSecret := *secret
	if tokenSecret == "" {
		tokenSecret = cfg.Auth.TokenSecret
	}

	// 开发模式下本地签发 token，生产环境由登录服务下发
	tokens := auth.NewService(tokenSecret, cfg.Auth.TokenExpire)
	token, err := tokens.Generate(*userId, cfg.Client.DeviceID, cfg.Client.Platform)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	creds := transport.Credentials{
		UserId:   *userId,
		Token:    token,
		DeviceId: cfg.Client.DeviceID,
		Platform: cfg.Client.Platform,
	}

	negotiator := transport.NewNegotiator(logger,
		transport.WithDialTimeout(cfg.Client.DialTimeout))

	mgr := connection.NewManager(negotiator, cfg.Client.Endpoint, creds, connection.Options{
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
		MaxReconnects:     cfg.Client.MaxReconnects,
	}, logger)

	store := reconcile.NewStore(logger,
		reconcile.WithScrollCallback(func(conversationId int64) {
			fmt.Printf("-- conversation %d updated --\n", conversationId)
		}))
	defer store.Close()

	apiClient := api.NewClient(cfg.Client.APIBaseURL, func() string { return token }, logger)

	svc := chat.NewService(mgr, apiClient, store, *userId, logger)
	defer svc.Close()

	mgr.AddListener(&consolePrinter{selfId: *userId})

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer mgr.Stop()

	info := mgr.State()
	fmt.Printf("connected via %s as user %d\n", info.Transport, *userId)
	fmt.Println("commands: /join <id>  /leave <id>  /history <id>  /use <id>  /status  /quit")

	repl(ctx, svc, mgr)
}

// repl 逐行读取输入：斜杠开头为命令，其余文本发往当前会话
func repl(ctx context.Context, svc *chat.Service, mgr *connection.Manager) {
	var current int64
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if current == 0 {
				fmt.Println("no active conversation, /use <id> first")
				continue
			}
			svc.InputChanged(current, line)
			if _, err := svc.Send(ctx, current, line, model.MessageTypeText); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
			svc.InputChanged(current, "")
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return
		case "/status":
			info := mgr.State()
			fmt.Printf("state=%s transport=%s attempts=%d\n",
				info.State, info.Transport, info.ReconnectAttempts)
		case "/join":
			if id, ok := parseId(fields); ok {
				svc.JoinConversation(id)
				current = id
			}
		case "/leave":
			if id, ok := parseId(fields); ok {
				svc.LeaveConversation(id)
				if current == id {
					current = 0
				}
			}
		case "/use":
			if id, ok := parseId(fields); ok {
				current = id
			}
		case "/history":
			if id, ok := parseId(fields); ok {
				page, err := svc.LoadHistory(ctx, id, "", 20)
				if err != nil {
					fmt.Printf("history failed: %v\n", err)
					continue
				}
				for _, m := range page.Messages {
					printMessage(m)
				}
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func parseId(fields []string) (int64, bool) {
	if len(fields) < 2 {
		fmt.Println("missing conversation id")
		return 0, false
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		fmt.Println("invalid conversation id:", fields[1])
		return 0, false
	}
	return id, true
}

func printMessage(m *model.Message) {
	fmt.Printf("[%s] #%d user%d: %s (%s)\n",
		m.CreatedAt.Format("15:04:05"), m.ConversationId, m.SenderId, m.Content, m.Status)
}

// consolePrinter 把服务端事件打到终端
type consolePrinter struct {
	connection.BaseListener
	selfId int64
}

func (p *consolePrinter) OnConnectionStatusChanged(connected bool) {
	if connected {
		fmt.Println("** connected **")
	} else {
		fmt.Println("** disconnected **")
	}
}

func (p *consolePrinter) OnReceiveMessage(msg *model.Message) {
	if msg.SenderId != p.selfId {
		printMessage(msg)
	}
}

func (p *consolePrinter) OnUserTyping(ev *proto.TypingEvent) {
	if ev.Typing {
		fmt.Printf("user%d is typing in #%d...\n", ev.UserId, ev.ConversationId)
	}
}

func (p *consolePrinter) OnPresenceChanged(ev *proto.PresenceEvent) {
	state := "offline"
	if ev.Online {
		state = "online"
	}
	fmt.Printf("user%d is now %s\n", ev.UserId, state)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
