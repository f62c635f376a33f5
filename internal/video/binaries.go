package video

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/kikiluvv/framewise/internal/ffmpeg"
)

// BundledBinary returns the path of a tool shipped in an assets directory
// next to the running executable, or "" when none is bundled.
func BundledBinary(name string) string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	exeDir := filepath.Dir(exePath)

	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	path := filepath.Join(exeDir, "assets", name)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}

// ResolveConfig fills empty binary paths with bundled copies when present.
// Anything still empty is looked up in PATH by ffmpeg.New.
func ResolveConfig(cfg ffmpeg.Config) ffmpeg.Config {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = BundledBinary("ffmpeg")
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = BundledBinary("ffprobe")
	}
	return cfg
}
