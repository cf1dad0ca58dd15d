package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dawnvoice/dawn/pkg/cli"
	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/kv"
	"github.com/dawnvoice/dawn/pkg/memory"
	"github.com/dawnvoice/dawn/pkg/realtime"
	"github.com/dawnvoice/dawn/pkg/session"
	"github.com/dawnvoice/dawn/pkg/textmode"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive dual-mode conversation",
	Long: `Start an interactive session. Messages are sent over the transport of the
current mode; the transcript spans both modes and is persisted locally.

In-session commands:
  /call      start a realtime voice call
  /hangup    end the call and return to text
  /mic on    publish the microphone (enters spoken mode)
  /mic off   unpublish the microphone (back to realtime text)
  /mode      show the current mode and memory sync state
  /history   print the merged transcript
  /quit      exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	settings, err := GetSettings()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	styles := cli.NewStyles(cli.DefaultTheme)

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: settings.DataDir})
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	convoStore := convo.NewStore(store, settings.ConversationID)
	seed, err := convoStore.Load(ctx)
	if err != nil {
		fmt.Println(styles.Warn(fmt.Sprintf("transcript load: %v, starting empty", err)))
		seed = nil
	}
	transcript := convo.NewTranscript(convoStore, seed)

	var memClient *memory.Client
	if settings.Memory.BaseURL != "" {
		memClient = memory.New(memory.Config{
			BaseURL: settings.Memory.BaseURL,
			Token:   settings.Memory.Token,
		})
	}

	completer, err := newCompleter(ctx, settings.Text.Provider, settings.Text.APIKey, settings.Text.Model)
	if err != nil {
		return err
	}
	tmCfg := textmode.Config{
		Completer:    completer,
		SystemPrompt: settings.Text.SystemPrompt,
	}
	if memClient != nil {
		tmCfg.Memory = memClient
	}
	textClient, err := textmode.New(tmCfg)
	if err != nil {
		return err
	}
	textClient.Seed(transcript.Turns())

	rt := realtime.NewClient(realtime.Config{
		URL:   settings.Realtime.URL,
		Token: settings.Realtime.Token,
	})

	sCfg := session.Config{
		Transport:  rt,
		Text:       textClient,
		Transcript: transcript,
		UserID:     settings.UserID,
	}
	if memClient != nil {
		sCfg.Memory = memClient
	}
	coord, err := session.New(sCfg)
	if err != nil {
		return err
	}

	rt.OnTurn = func(turn convo.Turn) {
		coord.HandleTurn(turn)
		fmt.Println(styles.Turn(turn))
	}
	rt.OnLocalTrack = coord.HandleLocalTrack
	rt.OnDisconnect = func(err error) {
		coord.HandleDisconnect(err)
		if err != nil {
			fmt.Println(styles.Warn(fmt.Sprintf("call dropped: %v", err)))
		} else {
			fmt.Println(styles.Notice("call ended"))
		}
	}

	printTail(styles, transcript, 10)
	fmt.Println(styles.Notice("type a message, or /call to go realtime (/quit to exit)"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s > ", styles.ModeBadge(coord.Mode()))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runChatCommand(ctx, coord, transcript, styles, line); quit {
				break
			}
			continue
		}

		reply, err := coord.Send(ctx, line)
		if err != nil {
			fmt.Println(styles.Warn(err.Error()))
			continue
		}
		if reply.ID != "" {
			fmt.Println(styles.Turn(reply))
		}
		// In realtime modes the reply arrives through OnTurn.
	}

	coord.StopCall()
	return scanner.Err()
}

// runChatCommand handles one /command line. Returns true to exit the session.
func runChatCommand(ctx context.Context, coord *session.Coordinator, transcript *convo.Transcript, styles cli.Styles, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/call":
		fmt.Println(styles.Notice("connecting..."))
		if err := coord.StartCall(ctx); err != nil {
			fmt.Println(styles.Warn(err.Error()))
		} else {
			fmt.Println(styles.Notice("connected; /mic on to talk"))
		}
	case "/hangup":
		if err := coord.StopCall(); err != nil {
			fmt.Println(styles.Warn(err.Error()))
		}
	case "/mic":
		// The microphone toggle is an explicit user control; it is never a
		// side effect of sending a message.
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			fmt.Println(styles.Warn("usage: /mic on|off"))
			break
		}
		coord.HandleLocalTrack(session.TrackMicrophone, fields[1] == "on")
	case "/mode":
		fmt.Printf("mode: %s  memory sync: %s\n", coord.Mode(), coord.SyncState())
	case "/history":
		printTail(styles, transcript, transcript.Len())
	default:
		fmt.Println(styles.Warn("unknown command " + fields[0]))
	}
	return false
}

func printTail(styles cli.Styles, transcript *convo.Transcript, n int) {
	turns := transcript.Turns()
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	for _, t := range turns {
		fmt.Println(styles.Turn(t))
	}
}

func newCompleter(ctx context.Context, provider, apiKey, model string) (textmode.Completer, error) {
	switch provider {
	case "gemini":
		return textmode.NewGeminiCompleter(ctx, apiKey, model)
	case "openai", "":
		return textmode.NewOpenAICompleter(apiKey, "", model)
	default:
		return nil, fmt.Errorf("unknown text provider %q (want openai or gemini)", provider)
	}
}
