package capture

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/camtap/camtap/internal/api"
	"github.com/camtap/camtap/internal/api/ws"
	"github.com/camtap/camtap/internal/app"
	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/ffmpeg"
	"github.com/camtap/camtap/pkg/pipeline"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Cameras  map[string]CameraConfig `yaml:"cameras"`
		Pipeline pipeline.Config         `yaml:"pipeline"`
		FFmpeg   ffmpeg.Decoder          `yaml:"ffmpeg"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("capture")

	pipeConfig = cfg.Pipeline
	ffmpegDecoder = cfg.FFmpeg
	ffmpegDecoder.Log = app.GetLogger("ffmpeg")

	for name, cam := range cfg.Cameras {
		if _, err := AddCamera(name, cam); err != nil {
			log.Error().Err(err).Str("camera", name).Msg("[capture] skip camera")
		}
	}

	api.HandleFunc("api/cameras", apiCameras).Methods("GET", "PUT", "DELETE")
	api.HandleFunc("api/frame.jpeg", apiFrame).Methods("GET")
	api.HandleFunc("api/stream.mjpeg", apiStream).Methods("GET")
	api.HandleFunc("api/stream.y4m", apiStreamY4M).Methods("GET")

	ws.HandleFunc("mjpeg", wsStream)
}

var log = zerolog.Nop()

var (
	pipeConfig    pipeline.Config
	ffmpegDecoder ffmpeg.Decoder
)

var (
	cameras   = map[string]*Camera{}
	camerasMu sync.Mutex
	runCtx    context.Context // set while Run is active
)

// AddCamera resolves credentials and registers the camera. It starts
// streaming right away if Run is active. A missing password is asked on
// the terminal.
func AddCamera(name string, cfg CameraConfig) (*Camera, error) {
	return addCamera(name, cfg, true)
}

func addCamera(name string, cfg CameraConfig, prompt bool) (*Camera, error) {
	if name == "" {
		return nil, core.NewError("capture: add camera", "", core.ErrInvalidArgument, errors.New("empty name"))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	user, err := credentials(name, &cfg, prompt, log)
	if err != nil {
		return nil, err
	}

	decoderLog := app.GetLogger(decoderModule(cfg.Decoder))
	decoder := newDecoder(cfg.Decoder, &ffmpegDecoder, app.UserAgent, decoderLog)

	cam := NewCamera(name, cfg, pipeConfig, user, decoder, log)

	camerasMu.Lock()
	prev := cameras[name]
	cameras[name] = cam
	ctx := runCtx
	camerasMu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	if ctx != nil {
		cam.Start(ctx)
	}

	log.Debug().Str("camera", name).Stringer("user", user).Msg("[capture] add camera")

	return cam, nil
}

func decoderModule(mode string) string {
	if mode == DecoderFFmpeg {
		return "ffmpeg"
	}
	return "rtsp"
}

// RemoveCamera stops the camera and forgets it.
func RemoveCamera(name string) bool {
	camerasMu.Lock()
	cam := cameras[name]
	delete(cameras, name)
	camerasMu.Unlock()

	if cam == nil {
		return false
	}
	cam.Stop()
	cam.user.Wipe()
	return true
}

func GetCamera(name string) *Camera {
	camerasMu.Lock()
	defer camerasMu.Unlock()
	return cameras[name]
}

// GetAll returns cameras sorted by name.
func GetAll() []*Camera {
	camerasMu.Lock()
	items := make([]*Camera, 0, len(cameras))
	for _, cam := range cameras {
		items = append(items, cam)
	}
	camerasMu.Unlock()

	slices.SortFunc(items, func(a, b *Camera) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return items
}

// Run starts every camera and blocks until ctx is done and all sessions
// are closed.
func Run(ctx context.Context) {
	camerasMu.Lock()
	runCtx = ctx
	items := make([]*Camera, 0, len(cameras))
	for _, cam := range cameras {
		items = append(items, cam)
	}
	camerasMu.Unlock()

	if len(items) == 0 {
		log.Info().Msg("[capture] no cameras in config, use -discover to find them")
	}

	checkFFmpeg(ctx, items)

	for _, cam := range items {
		cam.Start(ctx)
	}

	<-ctx.Done()

	camerasMu.Lock()
	runCtx = nil
	camerasMu.Unlock()

	for _, cam := range GetAll() {
		cam.Stop()
		cam.user.Wipe()
	}

	log.Debug().Str("reason", creds.SecretString(context.Cause(ctx).Error())).Msg("[capture] stopped")
}

// checkFFmpeg warns early when cameras may need ffmpeg and it is missing.
func checkFFmpeg(ctx context.Context, items []*Camera) {
	need := slices.ContainsFunc(items, func(cam *Camera) bool {
		return cam.cfg.Decoder != DecoderNative
	})
	if !need {
		return
	}

	bin := ffmpegDecoder.Bin
	if bin == "" {
		bin = ffmpeg.DefaultBin
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if version, err := ffmpeg.Version(ctx, bin); err != nil {
		log.Warn().Err(err).Str("bin", bin).Msg("[capture] ffmpeg not available, only MJPEG cameras will work")
	} else {
		log.Debug().Str("version", version).Msg("[capture] ffmpeg")
	}
}
