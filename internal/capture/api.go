package capture

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/camtap/camtap/internal/api"
	"github.com/camtap/camtap/internal/api/ws"
	"github.com/camtap/camtap/internal/app"
	"github.com/camtap/camtap/pkg/mjpeg"
	"github.com/camtap/camtap/pkg/y4m"
	"github.com/camtap/camtap/pkg/yaml"
)

// FrameTimeout limits the wait for the first frame of a snapshot.
var FrameTimeout = 10 * time.Second

func apiCameras(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	name := query.Get("name")

	switch r.Method {
	case "GET":
		if name != "" {
			cam := GetCamera(name)
			if cam == nil {
				http.Error(w, api.CameraNotFound, http.StatusNotFound)
				return
			}
			api.ResponsePrettyJSON(w, cam.Status())
			return
		}

		items := make([]*Status, 0)
		for _, cam := range GetAll() {
			items = append(items, cam.Status())
		}
		api.ResponsePrettyJSON(w, items)

	case "PUT":
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		var body struct {
			CameraConfig
			Password string `json:"password"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cfg := body.CameraConfig
		cfg.Password = body.Password

		// the password stays in memory, save writes the rest
		cam, err := addCamera(name, cfg, false)
		if err != nil {
			api.Error(w, err)
			return
		}

		if query.Has("save") {
			saved := cam.cfg
			saved.Password = ""
			if err = app.PatchConfig(name, saved, "cameras"); err != nil && !errors.Is(err, app.ErrConfigDisabled) {
				if errors.Is(err, yaml.ErrSecret) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				api.Error(w, err)
				return
			}
		}

		api.ResponsePrettyJSON(w, cam.Status())

	case "DELETE":
		if !RemoveCamera(name) {
			http.Error(w, api.CameraNotFound, http.StatusNotFound)
			return
		}

		if query.Has("save") {
			if err := app.PatchConfig(name, nil, "cameras"); err != nil && !errors.Is(err, app.ErrConfigDisabled) {
				api.Error(w, err)
				return
			}
		}

		api.Response(w, "OK", api.MimeText)
	}
}

func apiFrame(w http.ResponseWriter, r *http.Request) {
	cam := GetCamera(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, api.CameraNotFound, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), FrameTimeout)
	defer cancel()

	b, _, err := cam.JPEG(ctx, 0)
	if err != nil {
		if st := cam.Status(); st.Error != "" {
			http.Error(w, st.Error, http.StatusBadGateway)
		} else {
			http.Error(w, "no frames yet", http.StatusServiceUnavailable)
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	if _, err = w.Write(b); err != nil {
		log.Debug().Err(err).Caller().Send()
	}
}

func apiStream(w http.ResponseWriter, r *http.Request) {
	cam := GetCamera(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, api.CameraNotFound, http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	wr := mjpeg.NewWriter(w)

	if err := writeFrames(r.Context(), cam, wr.Write); err != nil {
		log.Trace().Err(err).Str("camera", cam.Name).Msg("[capture] mjpeg client")
	}
}

// apiStreamY4M sends raw frames for tools like ffmpeg -f yuv4mpegpipe -i.
// The stream ends if the camera changes resolution.
func apiStreamY4M(w http.ResponseWriter, r *http.Request) {
	cam := GetCamera(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, api.CameraNotFound, http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "video/x-yuv4mpeg")
	h.Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)

	var wr *y4m.Writer
	var n uint64
	for {
		frame, next, err := cam.Frame(r.Context(), n)
		if err != nil {
			log.Trace().Err(err).Str("camera", cam.Name).Msg("[capture] y4m client")
			return
		}

		if wr == nil {
			rect := frame.Image.Bounds()
			wr = y4m.NewWriter(w, rect.Dx(), rect.Dy())
		}
		if err = wr.WriteFrame(frame.Image); err != nil {
			log.Trace().Err(err).Str("camera", cam.Name).Msg("[capture] y4m client")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		n = next
	}
}

// writeFrames encodes every new frame until ctx is done or write fails.
// Slow clients skip frames.
func writeFrames(ctx context.Context, cam *Camera, write func([]byte) (int, error)) error {
	var n uint64
	for {
		b, next, err := cam.JPEG(ctx, n)
		if err != nil {
			return err
		}
		if _, err = write(b); err != nil {
			return err
		}
		n = next
	}
}

func wsStream(tr *ws.Transport, _ *ws.Message) error {
	cam := GetCamera(tr.Request.URL.Query().Get("src"))
	if cam == nil {
		return errors.New(api.CameraNotFound)
	}

	tr.Write(&ws.Message{Type: "mjpeg"})

	ctx, cancel := context.WithCancel(context.Background())
	tr.OnClose(cancel)

	go func() {
		err := writeFrames(ctx, cam, tr.Writer().Write)
		log.Trace().Err(err).Str("camera", cam.Name).Msg("[capture] ws client")
	}()

	return nil
}
