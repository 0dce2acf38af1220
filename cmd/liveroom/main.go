package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/config"
	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/identity"
	"github.com/voxclub/liveroom/internal/room"
	"github.com/voxclub/liveroom/internal/state"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	var (
		sessionID = flag.String("session", "", "session id to join (empty creates a new one)")
		title     = flag.String("title", "Live room", "title for a newly created session")
		name      = flag.String("name", "", "set display name before joining")
		asSpeaker = flag.Bool("speaker", false, "join with the speaker role")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	if err := run(ctx, cfg, *sessionID, *title, *name, *asSpeaker); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sessionID, title, name string, asSpeaker bool) error {
	ids, err := identity.DefaultStore()
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := ids.SetUsername(name); err != nil {
			return err
		}
	}

	apiClient := api.New(cfg.APIBase)
	if sessionID == "" {
		s, err := apiClient.CreateSession(ctx, api.CreateSessionRequest{Title: title})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = string(s.ID)
		fmt.Println("created session", sessionID)
	}

	client, err := room.New(room.Config{
		API:            apiClient,
		Identity:       ids,
		PingPeriod:     cfg.PingPeriod,
		ReconnectDelay: cfg.ReconnectDelay,
		ReactionTTL:    cfg.ReactionTTL,
		StunURL:        cfg.StunURL,
		OnNotice: func(n state.Notice) {
			fmt.Printf("* %s\n", n.Text)
		},
		OnChatFrom: func(m domain.ChatMessage) {
			fmt.Printf("<%s> %s\n", m.Username, m.Message)
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()

	role := domain.RoleListener
	if asSpeaker {
		role = domain.RoleSpeaker
	}
	if err := client.Join(ctx, domain.SessionID(sessionID), role); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return err
	}
	id := client.Identity()
	fmt.Printf("joined %s as %s (%s)\n", sessionID, id.Username, role)
	fmt.Println("commands: /react <emoji> /raise /lower /promote <id> /demote <id> /name <name> /audio /leaveaudio /who /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handle(ctx, client, line); quit {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, client *room.Client, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "/quit":
		return true
	case "/react":
		if arg == "" {
			arg = "🔥"
		}
		err = client.React(arg)
	case "/raise":
		err = client.RaiseHand()
	case "/lower":
		err = client.LowerHand()
	case "/promote":
		err = client.Promote(domain.UserID(arg))
	case "/demote":
		err = client.Demote(domain.UserID(arg))
	case "/name":
		err = client.SetUsername(ctx, arg)
	case "/audio":
		err = client.JoinAudio(ctx)
		if err == nil {
			fmt.Println("* audio connected")
		}
	case "/leaveaudio":
		client.LeaveAudio()
	case "/who":
		printSnapshot(client)
	default:
		err = client.SendChat(line)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "!", err)
	}
	return false
}

func printSnapshot(client *room.Client) {
	snap := client.Snapshot()
	fmt.Printf("participants=%d speakers=%d listeners=%d hands=%d role=%s connected=%v\n",
		snap.Stats.TotalParticipants, snap.Stats.SpeakersCount, snap.Stats.ListenersCount,
		snap.Stats.HandRaisedCount, snap.Role, client.Connected())
	for _, p := range snap.Participants {
		fmt.Printf("  %s (%s) %s\n", p.Username, p.UserID, p.Role)
	}
}
