package vfcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// Region is a latitude/longitude bounding box in degrees.
type Region struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Request asks an Acquirer for a velocity field covering [Start, End] over Region.
type Request struct {
	Start, End time.Time
	Region     Region
	// ScratchDir is a private directory the acquirer may write into. It is
	// removed after the call.
	ScratchDir string
}

// Acquirer retrieves a new velocity field from the upstream provider.
type Acquirer interface {
	Acquire(ctx context.Context, req Request) (*models.VelocityFieldWindow, error)
}

// RegionOfInterest sizes the download box around (lat, lon) for a drift of
// speedKmh over hours. Degrees per km use 111 km per degree of latitude and
// 36 km per degree of longitude (about 70°N). Each half-width is at least
// minHalfWidth and the box never extends south of minLat.
func RegionOfInterest(lat, lon, hours, speedKmh, minHalfWidth, minLat float64) Region {
	km := hours * speedKmh
	dLat := math.Max(km/111.0, minHalfWidth)
	dLon := math.Max(km/36.0, minHalfWidth)
	r := Region{
		LatMin: round3(lat - dLat),
		LatMax: math.Min(round3(lat+dLat), 90),
		LonMin: round3(lon - dLon),
		LonMax: round3(lon + dLon),
	}
	if r.LatMin < minLat {
		r.LatMin = minLat
	}
	return r
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// CommandAcquirer runs an external download job. Each argument may contain
// the placeholders {start} {end} {lat_min} {lat_max} {lon_min} {lon_max}
// {out_dir} and {out_name}. The job must write a velocity field document
// (JSON, optionally zstd-compressed) to {out_dir}/{out_name}.
type CommandAcquirer struct {
	command  []string
	username string
	password string
	logger   *zap.Logger
}

// NewCommandAcquirer creates a CommandAcquirer. Provider credentials are
// passed to the job as VELOCITY_USERNAME and VELOCITY_PASSWORD.
func NewCommandAcquirer(command []string, username, password string, logger *zap.Logger) *CommandAcquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandAcquirer{command: command, username: username, password: password, logger: logger}
}

const stderrTail = 2048

// Acquire runs the job and loads its output. ctx bounds the job's runtime.
func (a *CommandAcquirer) Acquire(ctx context.Context, req Request) (*models.VelocityFieldWindow, error) {
	if len(a.command) == 0 {
		return nil, errors.New("no acquisition command configured")
	}
	outName := "job-" + uuid.NewString() + ".json"
	replacer := strings.NewReplacer(
		"{start}", req.Start.UTC().Format("2006-01-02 15:04:05"),
		"{end}", req.End.UTC().Format("2006-01-02 15:04:05"),
		"{lat_min}", formatDeg(req.Region.LatMin),
		"{lat_max}", formatDeg(req.Region.LatMax),
		"{lon_min}", formatDeg(req.Region.LonMin),
		"{lon_max}", formatDeg(req.Region.LonMax),
		"{out_dir}", req.ScratchDir,
		"{out_name}", outName,
	)
	args := make([]string, len(a.command))
	for i, arg := range a.command {
		args[i] = replacer.Replace(arg)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		"VELOCITY_USERNAME="+a.username,
		"VELOCITY_PASSWORD="+a.password,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	a.logger.Info("acquisition job started",
		zap.String("command", args[0]),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
	)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquisition job timed out: %w", ctxErr)
		}
		return nil, fmt.Errorf("acquisition job failed: %w: %s", err, tail(stderr.String(), stderrTail))
	}

	w, err := ReadArtifact(filepath.Join(req.ScratchDir, outName))
	if err != nil {
		return nil, fmt.Errorf("read job output: %w", err)
	}
	return w, nil
}

func formatDeg(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
