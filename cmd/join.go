package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"jukebox/internal/client"
	"jukebox/internal/logging"
	"jukebox/internal/reflector"
	"jukebox/internal/shadowstore"
)

const joinHelp = `commands:
  add <name> - <artist>   queue a song (searches for a video when online)
  rm <n>                  remove track n
  play | pause            start or pause playback
  seek <seconds>          jump within the current track
  next | prev             skip forward or back
  goto <n>                play track n from the start
  vol <0-100>             set local volume
  show                    print the player
  quit                    leave`

var errQuit = errors.New("quit")

func newJoinCmd(flags *globalFlags) *cobra.Command {
	var (
		serverURL string
		reset     bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a jukebox server as a listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}

			store := openStore(cfg.Client.StateFile, reset, logging.Component(log, "store"))
			defer store.Close()

			refl := reflector.New(reflector.Config{
				DefaultDuration: cfg.Engine.DefaultDuration,
			}, store, logging.Component(log, "reflector"))

			ui := newView()
			c := client.New(client.Config{
				ServerURL:     cfg.Client.ServerURL,
				MaxRetries:    cfg.Client.MaxRetries,
				BackoffBase:   cfg.Client.BackoffBase,
				BackoffMax:    cfg.Client.BackoffMax,
				SearchTimeout: cfg.Client.SearchTimeout,
			}, refl, ui, logging.Component(log, "client"))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				c.Run(ctx)
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, joinHelp)
			err = readCommands(ctx, cmd.InOrStdin(), out, c, ui)
			cancel()
			<-done
			refl.GoOnline() // stops any offline simulation
			if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "server URL (overrides client.server_url)")
	cmd.Flags().BoolVar(&reset, "reset", false, "forget the saved offline playlist")
	return cmd
}

// openStore opens the offline state file, falling back to memory when it
// cannot be opened. With reset the saved record is dropped first.
func openStore(path string, reset bool, log zerolog.Logger) *shadowstore.Store {
	store, err := shadowstore.Open(path, log)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("offline state disabled")
		store, _ = shadowstore.Open("", log)
	}
	if reset {
		if err := store.Clear(); err != nil {
			log.Warn().Err(err).Msg("clear offline state")
		} else {
			log.Info().Msg("offline state cleared")
		}
	}
	return store
}

// readCommands runs one command per input line until quit, EOF or ctx ends.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, c *client.Client, ui *view) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}
		errs <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			if err := runCommand(ctx, c, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintln(out, err)
				continue
			}
			refl := c.Reflector()
			fmt.Fprint(out, ui.Render(refl.Snapshot(), refl.EffectivePosition(), refl.Volume()))
		}
	}
}

// runCommand executes a single input line.
func runCommand(ctx context.Context, c *client.Client, line string) error {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "", "show":
	case "add":
		name, artist, ok := strings.Cut(rest, " - ")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(artist) == "" {
			return errors.New("usage: add <name> - <artist>")
		}
		c.AddSong(ctx, strings.TrimSpace(name), strings.TrimSpace(artist))
	case "rm", "remove":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return errors.New("usage: rm <n>")
		}
		c.RemoveSong(n)
	case "play":
		c.Play()
	case "pause":
		c.Pause()
	case "seek":
		sec, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return errors.New("usage: seek <seconds>")
		}
		c.Seek(sec)
	case "next":
		c.Next()
	case "prev", "previous":
		c.Previous()
	case "goto":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return errors.New("usage: goto <n>")
		}
		c.ChangeSong(n)
	case "vol", "volume":
		v, err := strconv.Atoi(rest)
		if err != nil {
			return errors.New("usage: vol <0-100>")
		}
		c.SetVolume(v)
	case "help", "?":
		return errors.New(joinHelp)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", verb)
	}
	return nil
}
