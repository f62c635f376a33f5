package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kikiluvv/framewise/internal/api"
	"github.com/kikiluvv/framewise/internal/config"
	"github.com/kikiluvv/framewise/internal/qa"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchType  string
	searchVideo string
	searchImage string

	askResults int
	askImages  bool

	serveAddr string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed frames by text or by example image",
	Args:  cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		ctx := cmd.Context()

		st, err := store.ParseSearchType(searchType)
		if err != nil {
			return err
		}
		if len(args) == 0 && searchImage == "" {
			return errors.New("give a query or --image")
		}

		ix, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer ix.close()

		q := store.Query{Type: st, Limit: searchLimit, VideoPath: searchVideo}
		if len(args) == 1 {
			vecs, err := ix.embedder.EmbedQuery(ctx, args[0])
			if err != nil {
				return err
			}
			q.Text, q.Image = vecs.Text, vecs.Image
		}
		if searchImage != "" {
			vec, err := ix.embedder.EmbedImageFile(ctx, searchImage)
			if err != nil {
				return err
			}
			q.Image = vec
			if len(args) == 0 {
				q.Type = store.SearchImage
			}
		}

		results, err := ix.store.Search(ctx, q)
		if err != nil {
			return err
		}
		printResults(results)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		chat, err := newChat(cfg)
		if err != nil {
			return err
		}
		ix, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer ix.close()

		opts := qaOptions(cfg)
		if cmd.Flags().Changed("images") {
			opts.IncludeImages = askImages
		}
		assistant := qa.NewAssistant(log.Logger, ix.embedder, ix.store, chat, opts)

		ans, err := assistant.Ask(cmd.Context(), strings.Join(args, " "), askResults)
		if err != nil {
			return err
		}

		fmt.Println(ans.Text)
		if len(ans.Frames) > 0 {
			fmt.Println()
			printResults(ans.Frames)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search and question API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		ix, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer ix.close()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srvCfg := api.ServerConfig{
			Addr:         addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			Embedder:     ix.embedder,
			Index:        ix.store,
			Logger:       log.Logger,
			StartTime:    time.Now(),
		}
		if chat, err := newChat(cfg); err != nil {
			log.Warn().Err(err).Msg("question answering disabled")
		} else {
			srvCfg.Asker = qa.NewAssistant(log.Logger, ix.embedder, ix.store, chat, qaOptions(cfg))
		}
		srv := api.NewServer(srvCfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", store.DefaultLimit, "number of results")
	searchCmd.Flags().StringVar(&searchType, "type", "hybrid", "text, image or hybrid")
	searchCmd.Flags().StringVar(&searchVideo, "video", "", "only search frames of this video")
	searchCmd.Flags().StringVar(&searchImage, "image", "", "find frames similar to this image")

	askCmd.Flags().IntVarP(&askResults, "num-results", "n", 0, "frames to retrieve (default: qa.num_results)")
	askCmd.Flags().BoolVar(&askImages, "images", false, "send frame images to the model")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}

func printResults(results []store.Result) {
	if len(results) == 0 {
		fmt.Println("no matching frames")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTIME\tREASON\tFRAME\tTEXT")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n",
			r.Score, util.FormatSeconds(r.Timestamp), r.Reason, r.FramePath, truncate(r.Text, 60))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
