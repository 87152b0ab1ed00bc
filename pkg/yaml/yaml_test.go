package yaml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatch(t *testing.T) {
	b := []byte(`# cameras`)

	b, err := Patch(b, "garage", map[string]any{"host": "192.168.1.20"}, "cameras")
	require.NoError(t, err)

	require.Equal(t, `# cameras
cameras:
  garage:
    host: 192.168.1.20
`, string(b))

	b, err = Patch(b, "porch", map[string]any{"stream": "rtsp://192.168.1.21/live"}, "cameras")
	require.NoError(t, err)

	require.Equal(t, `# cameras
cameras:
  garage:
    host: 192.168.1.20
  porch:
    stream: rtsp://192.168.1.21/live
`, string(b))

	b, err = Patch(b, "garage", map[string]any{"host": "192.168.1.22"}, "cameras")
	require.NoError(t, err)

	require.Equal(t, `# cameras
cameras:
  garage:
    host: 192.168.1.22
  porch:
    stream: rtsp://192.168.1.21/live
`, string(b))

	b, err = Patch(b, "garage", nil, "cameras")
	require.NoError(t, err)

	require.Equal(t, `# cameras
cameras:
  porch:
    stream: rtsp://192.168.1.21/live
`, string(b))
}

func TestPatchNested(t *testing.T) {
	b := []byte(`cameras:
  garage:
    host: 192.168.1.20
pipeline:
  queue: 3
`)

	b, err := Patch(b, "profile", "Profile_2", "cameras", "garage")
	require.NoError(t, err)

	require.Equal(t, `cameras:
  garage:
    host: 192.168.1.20
    profile: Profile_2
pipeline:
  queue: 3
`, string(b))

	out, err := Patch(b, "profile", "x", "cameras", "missing", "deeper")
	require.EqualError(t, err, "yaml: path not exist")
	require.Nil(t, out)

	// removing a key that is not there
	out, err = Patch(b, "porch", nil, "missing")
	require.NoError(t, err)
	require.Equal(t, b, out)
}

func TestPatchSecret(t *testing.T) {
	b := []byte("cameras:\n")

	_, err := Patch(b, "password", "pw", "cameras", "garage")
	require.ErrorIs(t, err, ErrSecret)

	_, err = Patch(b, "garage", map[string]any{"host": "h", "password": "pw"}, "cameras")
	require.ErrorIs(t, err, ErrSecret)

	type camera struct {
		Host     string `yaml:"host"`
		Password string `yaml:"password,omitempty"`
	}
	_, err = Patch(b, "garage", camera{Host: "h", Password: "pw"}, "cameras")
	require.ErrorIs(t, err, ErrSecret)

	_, err = Patch(b, "garage", camera{Host: "h"}, "cameras")
	require.NoError(t, err)
}

func TestEncode(t *testing.T) {
	b, err := Encode(map[string]int{"queue": 3}, 2)
	require.NoError(t, err)
	require.Equal(t, "queue: 3\n", string(b))
}

func TestMerge(t *testing.T) {
	var cfg struct {
		Cameras map[string]struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Profile  string `yaml:"profile"`
			Password string `yaml:"password"`
		} `yaml:"cameras"`
		Log map[string]string `yaml:"log"`
	}

	err := Merge(&cfg,
		[]byte("cameras:\n  garage:\n    host: 192.168.1.20\n    port: 8080\n    password: 0123\nlog:\n  level: info\n"),
		nil,
		[]byte(`{cameras: {garage: {profile: Profile_2}, porch: {host: 192.168.1.21}}}`),
		[]byte(`{log: {level: trace}}`),
	)
	require.NoError(t, err)

	garage := cfg.Cameras["garage"]
	require.Equal(t, "192.168.1.20", garage.Host)
	require.Equal(t, 8080, garage.Port)
	require.Equal(t, "Profile_2", garage.Profile)
	require.Equal(t, "0123", garage.Password)
	require.Equal(t, "192.168.1.21", cfg.Cameras["porch"].Host)
	require.Equal(t, "trace", cfg.Log["level"])

	// broken layer is reported, the rest still applies
	var out struct {
		Log map[string]string `yaml:"log"`
	}
	err = Merge(&out, []byte("log: [level"), []byte("log:\n  level: debug\n"))
	require.Error(t, err)
	require.Equal(t, "debug", out.Log["level"])
}
