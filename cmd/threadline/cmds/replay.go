package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-go-golems/threadline/pkg/fixtures"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [files or directories...]",
		Short: "Serve recorded scenarios as an ask endpoint",
		Long: "Replays streamed answers from scenario files, one per request. " +
			"Useful for trying the client without a real server.",
		Args: cobra.MinimumNArgs(1),
		RunE: runReplay,
	}
	cmd.Flags().String("addr", "localhost:49152", "Address to listen on")
	cmd.Flags().String("path", "/ask", "Path of the ask endpoint")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	addr, _ := cmd.Flags().GetString("addr")
	path, _ := cmd.Flags().GetString("path")

	scenarios := []*fixtures.Scenario{}
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return errors.Wrapf(err, "could not open %s", arg)
		}
		var loaded []*fixtures.Scenario
		if fi.IsDir() {
			loaded, err = fixtures.LoadDir(arg)
		} else {
			loaded, err = fixtures.Load(arg)
		}
		if err != nil {
			return err
		}
		scenarios = append(scenarios, loaded...)
	}
	if len(scenarios) == 0 {
		return errors.New("no scenarios found")
	}

	mux := http.NewServeMux()
	mux.Handle(path, fixtures.NewServer(scenarios...))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("path", path).Int("scenarios", len(scenarios)).Msg("Replaying scenarios")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
