package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/camtap/camtap/internal/api"
	"github.com/camtap/camtap/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Origin string `yaml:"origin"`
		} `yaml:"api"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("api")

	initWS(cfg.Mod.Origin)

	api.HandleFunc("api/ws", apiWS).Methods("GET")
}

var log = zerolog.Nop()

// Message - struct for data exchange in Web API
type Message struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	Raw   []byte `json:"-"`
}

func (m *Message) String() (value string) {
	_ = json.Unmarshal(m.Raw, &value)
	return
}

func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Raw, v)
}

type WSHandler func(tr *Transport, msg *Message) error

func HandleFunc(msgType string, handler WSHandler) {
	handlersMu.Lock()
	wsHandlers[msgType] = handler
	handlersMu.Unlock()
}

func getHandler(msgType string) WSHandler {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	return wsHandlers[msgType]
}

var wsHandlers = make(map[string]WSHandler)
var handlersMu sync.Mutex

func initWS(origin string) {
	wsUp = &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 512 * 1024, // 512K, one JPEG frame
	}

	switch origin {
	case "":
		// same origin + ignore port
		wsUp.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header["Origin"]
			if len(origin) == 0 {
				return true
			}
			o, err := url.Parse(origin[0])
			if err != nil {
				return false
			}
			if o.Host == r.Host {
				return true
			}
			log.Trace().Msgf("[api] ws origin=%s, host=%s", o.Host, r.Host)
			if i := strings.IndexByte(o.Host, ':'); i > 0 {
				return o.Host[:i] == r.Host
			}
			return false
		}
	case "*":
		// any origin
		wsUp.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

func apiWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUp.Upgrade(w, r, nil)
	if err != nil {
		origin := r.Header.Get("Origin")
		log.Error().Err(err).Caller().Msgf("host=%s origin=%s", r.Host, origin)
		return
	}

	tr := NewTransport(r)
	tr.OnWrite(func(msg any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(time.Second * 5))

		if data, ok := msg.([]byte); ok {
			return ws.WriteMessage(websocket.BinaryMessage, data)
		} else {
			return ws.WriteJSON(msg)
		}
	})

	for {
		var raw struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err = ws.ReadJSON(&raw); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
				log.Trace().Err(err).Caller().Send()
			}
			_ = ws.Close()
			break
		}

		msg := &Message{Type: raw.Type, Raw: raw.Value}

		log.Trace().Str("type", msg.Type).Msg("[api] ws msg")

		if handler := getHandler(msg.Type); handler != nil {
			go func() {
				if err := handler(tr, msg); err != nil {
					tr.Write(&Message{Type: "error", Value: msg.Type + ": " + err.Error()})
				}
			}()
		} else {
			tr.Write(&Message{Type: "error", Value: "unknown type: " + msg.Type})
		}
	}

	tr.Close()
}

var wsUp *websocket.Upgrader

// Transport is one websocket connection shared by message handlers.
type Transport struct {
	Request *http.Request

	closed bool
	done   chan struct{}
	mx     sync.Mutex
	wrmx   sync.Mutex

	onWrite func(msg any) error
	onClose []func()
}

func NewTransport(r *http.Request) *Transport {
	return &Transport{Request: r, done: make(chan struct{})}
}

func (t *Transport) OnWrite(f func(msg any) error) {
	t.mx.Lock()
	t.onWrite = f
	t.mx.Unlock()
}

func (t *Transport) Write(msg any) {
	_ = t.write(msg)
}

func (t *Transport) write(msg any) error {
	t.wrmx.Lock()
	defer t.wrmx.Unlock()

	t.mx.Lock()
	f := t.onWrite
	t.mx.Unlock()

	if f == nil {
		return io.ErrClosedPipe
	}
	return f(msg)
}

func (t *Transport) Close() {
	t.mx.Lock()
	if !t.closed {
		t.closed = true
		close(t.done)
		for _, f := range t.onClose {
			f()
		}
	}
	t.mx.Unlock()
}

// Done is closed when the client goes away.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) OnClose(f func()) {
	t.mx.Lock()
	if t.closed {
		f()
	} else {
		t.onClose = append(t.onClose, f)
	}
	t.mx.Unlock()
}

// Writer sends every Write as one binary message.
func (t *Transport) Writer() io.Writer {
	return &writer{t: t}
}

type writer struct {
	t *Transport
}

func (w *writer) Write(p []byte) (n int, err error) {
	if err = w.t.write(p); err == nil {
		n = len(p)
	}
	return
}
