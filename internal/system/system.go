package system

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// InitResourceLimits raises the open file limit; every shot keeps several
// artifacts, clips and ffmpeg pipes open at once.
func InitResourceLimits(logger *zap.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn("could not read open file limit", zap.Error(err))
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn("could not raise open file limit", zap.Error(err))
	} else {
		logger.Debug("open file limit raised", zap.Uint64("limit", uint64(rLimit.Cur)))
	}
}

// Host describes the machine the pipeline runs on.
type Host struct {
	LogicalCPUs    int
	AvailableBytes uint64
	TotalBytes     uint64
}

// Inspect reads CPU and memory figures of the host.
func Inspect(ctx context.Context) (Host, error) {
	var h Host

	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return h, fmt.Errorf("cpu count: %w", err)
	}
	h.LogicalCPUs = n

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return h, fmt.Errorf("virtual memory: %w", err)
	}
	h.AvailableBytes = vm.Available
	h.TotalBytes = vm.Total
	return h, nil
}

// ffmpegWorkerBytes is a rough resident size of one ffmpeg decode of a
// short 1080p clip.
const ffmpegWorkerBytes = 512 << 20

// Concurrency suggests how many local ffmpeg jobs the host can run side by
// side, bounded by both CPU count and available memory.
func (h Host) Concurrency() int {
	n := h.LogicalCPUs
	if byMem := int(h.AvailableBytes / ffmpegWorkerBytes); byMem < n {
		n = byMem
	}
	if n < 1 {
		n = 1
	}
	return n
}

func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	return ParseDuration(string(out))
}

// ParseDuration parses ffprobe's bare duration output.
func ParseDuration(out string) (float64, error) {
	var duration float64
	_, err := fmt.Sscanf(strings.TrimSpace(out), "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", out, err)
	}

	return duration, nil
}

func GetBestH264Encoder() string {
	// Приоритеты:
	// 1. MacOS (VideoToolbox)
	// 2. NVIDIA (NVENC)
	// 3. Software (libx264)
	encoders := []string{"h264_videotoolbox", "h264_nvenc"}

	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	for _, enc := range encoders {
		if strings.Contains(string(out), enc) {
			return enc
		}
	}

	return "libx264"
}

// DefaultQuality returns a sensible quality value for the encoder.
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75 // битрейт = Q*100 кбит/с
	case "h264_nvenc":
		return 28 // эквивалент CRF для NVENC
	default:
		return 23 // стандартный CRF для x264
	}
}

// CheckFilterSupport reports whether the local ffmpeg build has a filter.
func CheckFilterSupport(name string) bool {
	out, err := exec.Command("ffmpeg", "-hide_banner", "-filters").CombinedOutput()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
