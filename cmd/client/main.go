// Command client is a line-oriented chat client for the duochat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/sethvargo/go-envconfig"

	"github.com/sirpyerre/duochat/internal/client"
	"github.com/sirpyerre/duochat/internal/core/domain"
)

type config struct {
	ServerURL string `env:"DUOCHAT_URL, default=http://localhost:5000"`
	// Token resumes a previous session.
	Token   string `env:"DUOCHAT_TOKEN"`
	History string `env:"DUOCHAT_HISTORY"`
}

const help = `commands:
  /register <email> <password> <full name>
  /login <email> <password>
  /logout
  /me
  /users                 list people, online marker and unseen counts
  /open <user id>        open a conversation
  /history               print the open conversation
  /seen <message id>     mark a received message seen
  /quit
anything else is sent to the open conversation`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return err
	}
	if cfg.History == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.History = filepath.Join(dir, "duochat", "history")
		}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	loadHistory(line, cfg.History)
	defer saveHistory(line, cfg.History)

	session := client.NewSession(client.NewAPI(cfg.ServerURL, nil), client.WithObserver(printer{}))
	defer session.Close()

	if cfg.Token != "" {
		if me, err := session.Resume(ctx, cfg.Token); err != nil {
			fmt.Println("saved session rejected:", err)
		} else {
			fmt.Printf("welcome back, %s\n", me.FullName)
		}
	}

	fmt.Println("connected to", cfg.ServerURL, "- /help for commands")
	for {
		input, err := line.Prompt(prompt(session))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := dispatch(ctx, session, input)
		if err != nil {
			fmt.Println("error:", err)
		}
		if quit {
			return nil
		}
	}
}

func dispatch(ctx context.Context, s *client.Session, input string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if !strings.HasPrefix(input, "/") {
		_, err := s.Send(ctx, input, "")
		return false, err
	}

	cmd, rest, _ := strings.Cut(input, " ")
	args := strings.Fields(rest)
	switch cmd {
	case "/help":
		fmt.Println(help)

	case "/register":
		if len(args) < 3 {
			return false, errors.New("usage: /register <email> <password> <full name>")
		}
		u, err := s.Register(ctx, client.RegisterInput{
			Email:    args[0],
			Password: args[1],
			FullName: strings.Join(args[2:], " "),
		})
		if err != nil {
			return false, err
		}
		fmt.Printf("registered as %s (id %d)\n", u.FullName, u.ID)

	case "/login":
		if len(args) != 2 {
			return false, errors.New("usage: /login <email> <password>")
		}
		u, err := s.Login(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		fmt.Printf("logged in as %s (id %d)\n", u.FullName, u.ID)

	case "/logout":
		return false, s.Logout(ctx)

	case "/me":
		u := s.User()
		if u == nil {
			return false, client.ErrNotLoggedIn
		}
		fmt.Printf("%d  %s <%s>\n", u.ID, u.FullName, u.Email)

	case "/users":
		users, err := s.Partners(ctx)
		if err != nil {
			return false, err
		}
		unseen := s.Unseen()
		for _, u := range users {
			mark := " "
			if s.IsOnline(strconv.FormatInt(u.ID, 10)) {
				mark = "*"
			}
			line := fmt.Sprintf("%s %4d  %s", mark, u.ID, u.FullName)
			if n := unseen[u.ID]; n > 0 {
				line += fmt.Sprintf("  (%d unseen)", n)
			}
			fmt.Println(line)
		}

	case "/open":
		id, err := parseID(args)
		if err != nil {
			return false, err
		}
		if err := s.Select(ctx, id); err != nil {
			return false, err
		}
		printHistory(s)

	case "/history":
		printHistory(s)

	case "/seen":
		id, err := parseID(args)
		if err != nil {
			return false, err
		}
		return false, s.MarkSeen(ctx, id)

	case "/quit", "/exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, nil
}

func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func prompt(s *client.Session) string {
	u := s.User()
	if u == nil {
		return "duochat> "
	}
	if p := s.Partner(); p != 0 {
		return fmt.Sprintf("%s -> %d> ", u.FullName, p)
	}
	return u.FullName + "> "
}

func printHistory(s *client.Session) {
	me := s.User()
	for _, m := range s.Messages() {
		fmt.Println(formatMessage(&m, me))
	}
}

func formatMessage(m *domain.Message, me *domain.User) string {
	who := strconv.FormatInt(m.SenderID, 10)
	if me != nil && m.SenderID == me.ID {
		who = "you"
	}
	body := m.Text
	if m.Image != "" {
		body = strings.TrimSpace(body + " [image " + m.Image + "]")
	}
	seen := ""
	if m.Seen {
		seen = " ✓"
	}
	return fmt.Sprintf("[%s] #%d %s: %s%s", m.CreatedAt.Local().Format("15:04"), m.ID, who, body, seen)
}

// printer writes pushes between prompts.
type printer struct{}

func (printer) PresenceChanged(online []string) {
	fmt.Printf("\n* online: %s\n", strings.Join(online, ", "))
}

func (printer) MessageReceived(m *domain.Message, visible bool) {
	if visible {
		fmt.Printf("\n%s\n", formatMessage(m, nil))
		return
	}
	fmt.Printf("\n* new message from %d\n", m.SenderID)
}

func loadHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
