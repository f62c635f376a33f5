package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kikiluvv/framewise/internal/config"
	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/kikiluvv/framewise/internal/video"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	transcribeOut string
	publishPrefix string
	probeScenes   float64
	probeAt       string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [directory or videos...]",
	Short: "Transcribe videos to <stem>_transcript.json",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		videos, err := collectVideos(args)
		if err != nil {
			return err
		}
		media, err := newMedia(cfg)
		if err != nil {
			return err
		}
		tr, err := newTranscriber(cfg, media)
		if err != nil {
			return err
		}
		if tr == nil {
			return errors.New("transcription.provider is none")
		}

		out := cfg.Transcription.OutputDir
		if transcribeOut != "" {
			out = transcribeOut
		}

		items := transcript.ExtractBatch(cmd.Context(), log.Logger, tr, videos, out, transcribeOptions(cfg))
		failed := 0
		for _, it := range items {
			if it.Err != nil {
				failed++
				fmt.Printf("FAIL  %s: %v\n", filepath.Base(it.VideoPath), it.Err)
				continue
			}
			fmt.Printf("OK    %s: %d segments -> %s\n", filepath.Base(it.VideoPath), it.Segments, it.TranscriptPath)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d videos failed", failed, len(items))
		}
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [frames directories...]",
	Short: "Embed and index already extracted frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		ctx := cmd.Context()

		ix, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer ix.close()

		for _, dir := range args {
			m, err := keyframe.ReadManifest(dir)
			if err != nil {
				return err
			}
			embs, err := ix.embedder.EmbedFrames(ctx, dir, m)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			video := m.VideoPath
			if abs, err := filepath.Abs(video); err == nil {
				video = abs
			}
			if err := ix.store.ReplaceVideo(ctx, video, store.FromEmbeddings(video, embs)); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			fmt.Printf("indexed %d frames of %s\n", len(embs), filepath.Base(video))
		}

		stats, err := ix.store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("index holds %d frames from %d videos\n", stats.TotalFrames, stats.Videos)
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [frames directory]",
	Short: "Upload extracted frames and their manifest to object storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pub, err := newPublisher(cfg)
		if err != nil {
			return err
		}
		res, err := pub.Publish(cmd.Context(), args[0], publishPrefix)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %d objects (%d bytes) to s3://%s/%s\n", len(res.Objects), res.Bytes, res.Bucket, res.Prefix)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Show video metadata, loudness and ffmpeg scene cuts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		ctx := cmd.Context()

		media, err := newMedia(cfg)
		if err != nil {
			return err
		}

		info, err := media.ProbeVideo(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("duration:  %s\n", util.FormatDuration(info.Duration))
		fmt.Printf("video:     %dx%d %s @ %.2f fps\n", info.Width, info.Height, info.VideoCodec, info.FPS)

		if probeAt != "" {
			if err := probeFrame(cmd.Context(), cfg, media, args[0], probeAt); err != nil {
				return err
			}
		}

		if info.HasAudio {
			vol, err := media.AnalyzeVolume(ctx, args[0])
			if err != nil {
				return err
			}
			silent := vol.Silent(cfg.Transcription.SilenceFloorDB)
			fmt.Printf("audio:     %s, mean %.1f dB, max %.1f dB, silent: %t\n", info.AudioCodec, vol.MeanVolume, vol.MaxVolume, silent)
		} else {
			fmt.Println("audio:     none")
		}

		threshold := cfg.Extraction.SceneThreshold
		if probeScenes > 0 {
			threshold = probeScenes
		}
		cuts, err := media.DetectScenes(ctx, args[0], threshold)
		if err != nil {
			return err
		}
		fmt.Printf("scenes:    %d cuts above %.2f\n", len(cuts), threshold)
		for _, c := range cuts {
			fmt.Printf("  %s  %.3f\n", util.FormatSeconds(c.Timestamp), c.Score)
		}
		return nil
	},
}

// probeFrame decodes the frame at the given timestamp and prints how the
// quality gate rates it.
func probeFrame(ctx context.Context, cfg *config.Config, media *ffmpeg.Executor, path, at string) error {
	ts, err := util.ParseTimestamp(at)
	if err != nil {
		return err
	}
	dec, err := video.NewOpener(log.Logger, media, cfg.FFmpeg.SampleWidth).Open(ctx, path)
	if err != nil {
		return err
	}
	defer dec.Close()

	frame, err := dec.Seek(ctx, ts.Seconds())
	if err != nil {
		return fmt.Errorf("failed to decode frame at %s: %w", at, err)
	}
	q := keyframe.NewQualityScorer(cfg.Extraction.AnalysisWidth).Score(frame.Image)
	fmt.Printf("frame:     %s quality %.3f (sharpness %.3f, exposure %.3f, content %.3f), passes %.2f: %t\n",
		util.FormatSeconds(frame.Timestamp), q.Score, q.Sharpness, q.Exposure, q.Content,
		cfg.Extraction.QualityThreshold, q.Score >= cfg.Extraction.QualityThreshold)
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.FromContext(cmd.Context())
		if cfg.QA.APIKey != "" {
			cfg.QA.APIKey = "***"
		}
		if cfg.Transcription.AssemblyAIKey != "" {
			cfg.Transcription.AssemblyAIKey = "***"
		}
		if cfg.Publish.SecretKey != "" {
			cfg.Publish.SecretKey = "***"
		}
		return yaml.NewEncoder(os.Stdout).Encode(&cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "./config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("configuration written")
		return nil
	},
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeOut, "output", "o", "", "transcript directory (default: transcription.output_dir)")
	publishCmd.Flags().StringVar(&publishPrefix, "prefix", "", "object prefix (default: video file stem)")
	probeCmd.Flags().Float64Var(&probeScenes, "threshold", 0, "scene threshold (default: extraction.scene_threshold)")
	probeCmd.Flags().StringVar(&probeAt, "at", "", "decode and score the frame at this timestamp (HH:MM:SS.mmm, MM:SS or seconds)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
