package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kikiluvv/framewise/internal/config"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/pipeline"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type extractFlags struct {
	output       string
	strategy     string
	maxFrames    int
	transcript   string
	noTranscript bool
	refresh      bool
	index        bool
	publish      bool
}

var (
	extractOpts extractFlags
	batchOpts   extractFlags
)

func addExtractFlags(cmd *cobra.Command, f *extractFlags) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "frames directory (default: extraction.output_dir)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "scene, transcript or hybrid (default: extraction.strategy)")
	cmd.Flags().IntVar(&f.maxFrames, "max-frames", 0, "frame budget per video (default: extraction.max_frames_per_video)")
	cmd.Flags().BoolVar(&f.noTranscript, "no-transcript", false, "extract without transcribing")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "transcribe again even when a cached transcript exists")
	cmd.Flags().BoolVar(&f.index, "index", false, "embed and index the frames")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "upload the frames to object storage")
}

var extractCmd = &cobra.Command{
	Use:   "extract [input video]",
	Short: "Extract keyframes from one video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, cleanup, err := buildPipeline(cfg, extractOpts)
		if err != nil {
			return err
		}
		defer cleanup()

		job := pipeline.Job{
			VideoPath:      args[0],
			TranscriptPath: extractOpts.transcript,
			NoTranscript:   extractOpts.noTranscript,
			Refresh:        extractOpts.refresh,
		}
		if extractOpts.output != "" {
			job.OutputDir = extractOpts.output
		}

		res, err := pipe.Process(cmd.Context(), job)
		if err != nil {
			return err
		}
		printJob(res)
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [directory or videos...]",
	Short: "Extract keyframes from many videos in parallel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		videos, err := collectVideos(args)
		if err != nil {
			return err
		}
		if len(videos) == 0 {
			return fmt.Errorf("no videos found in %v", args)
		}

		pipe, cleanup, err := buildPipeline(cfg, batchOpts)
		if err != nil {
			return err
		}
		defer cleanup()

		jobs := make([]pipeline.Job, len(videos))
		for i, v := range videos {
			jobs[i] = pipeline.Job{
				VideoPath:    v,
				NoTranscript: batchOpts.noTranscript,
				Refresh:      batchOpts.refresh,
			}
		}

		batch := pipe.RunBatch(cmd.Context(), jobs)
		for i := range batch.Results {
			printJob(&batch.Results[i])
		}
		fmt.Printf("\n%d succeeded, %d failed in %s\n", batch.Succeeded, batch.Failed, util.FormatDuration(batch.Elapsed))

		if batch.Failed > 0 {
			return fmt.Errorf("%d of %d videos failed", batch.Failed, len(jobs))
		}
		return nil
	},
}

func init() {
	addExtractFlags(extractCmd, &extractOpts)
	extractCmd.Flags().StringVar(&extractOpts.transcript, "transcript", "", "use this transcript file")

	addExtractFlags(batchCmd, &batchOpts)
}

// buildPipeline wires the stages enabled by config and flags. cleanup
// releases models and the store.
func buildPipeline(cfg *config.Config, f extractFlags) (*pipeline.Pipeline, func(), error) {
	opts := cfg.Extraction
	if f.strategy != "" {
		s, err := keyframe.ParseStrategy(f.strategy)
		if err != nil {
			return nil, nil, err
		}
		opts.Strategy = s
	}
	if f.maxFrames > 0 {
		opts.MaxFrames = f.maxFrames
		opts.MinFrames = min(opts.MinFrames, f.maxFrames)
	}
	if f.output != "" {
		opts.OutputDir = f.output
	}

	media, err := newMedia(cfg)
	if err != nil {
		return nil, nil, err
	}
	extractor, err := newExtractor(cfg, media, opts)
	if err != nil {
		return nil, nil, err
	}

	pipe, err := pipeline.New(log.Logger, pipeline.Config{
		Workers:        cfg.Concurrency,
		FramesDir:      opts.OutputDir,
		TranscriptDir:  cfg.Transcription.OutputDir,
		SilenceFloorDB: cfg.Transcription.SilenceFloorDB,
		Transcription:  transcribeOptions(cfg),
		Corrections:    cfg.Transcription.Corrections,
	}, extractor)
	if err != nil {
		return nil, nil, err
	}

	if !f.noTranscript {
		tr, err := newTranscriber(cfg, media)
		if err != nil {
			return nil, nil, err
		}
		if tr != nil {
			pipe.WithTranscriber(tr, media)
		}
	}

	cleanup := func() {}
	if f.index || cfg.Embedding.Enabled {
		ix, err := openIndex(cfg)
		if err != nil {
			return nil, nil, err
		}
		pipe.WithIndex(ix.embedder, ix.store)
		cleanup = ix.close
	}

	if f.publish {
		pub, err := newPublisher(cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		pipe.WithPublisher(pub)
	}

	return pipe, cleanup, nil
}

// collectVideos expands directories into the videos they contain.
func collectVideos(args []string) ([]string, error) {
	var videos []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			videos = append(videos, arg)
			continue
		}
		found, err := util.ListVideos(arg)
		if err != nil {
			return nil, err
		}
		videos = append(videos, found...)
	}
	return videos, nil
}

func printJob(res *pipeline.JobResult) {
	if res.Err != nil {
		fmt.Printf("FAIL  %s: %v\n", filepath.Base(res.VideoPath), res.Err)
		return
	}
	fmt.Printf("OK    %s: %d frames -> %s (transcript: %s",
		filepath.Base(res.VideoPath), len(res.Extraction.Frames), res.Extraction.ManifestPath, res.TranscriptSource)
	if res.Indexed > 0 {
		fmt.Printf(", indexed %d", res.Indexed)
	}
	if res.Published != nil {
		fmt.Printf(", published to s3://%s/%s", res.Published.Bucket, res.Published.Prefix)
	}
	fmt.Println(")")
}
