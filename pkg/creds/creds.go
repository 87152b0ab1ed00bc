package creds

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Credentials are supplied by the operator and live only in memory.
// The same pair serves the device management protocol and the media transport.
type Credentials struct {
	Username string
	Password string
}

func New(username, password string) *Credentials {
	AddSecret(password)
	return &Credentials{Username: username, Password: password}
}

func (c *Credentials) Empty() bool {
	return c == nil || c.Username == ""
}

func (c *Credentials) String() string {
	if c == nil {
		return ""
	}
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":***"
}

func (c *Credentials) GoString() string {
	return "creds.Credentials{" + c.String() + "}"
}

// Wipe drops the secret from this instance at the end of a session.
func (c *Credentials) Wipe() {
	if c != nil {
		c.Password = ""
	}
}

func GetValue(name string) (value string, ok bool) {
	if dir, ok := os.LookupEnv("CREDENTIALS_DIRECTORY"); ok {
		if value, _ := os.ReadFile(filepath.Join(dir, name)); value != nil {
			value := strings.TrimSpace(string(value))
			AddSecret(value)
			return value, true
		}
	}

	if value, ok = os.LookupEnv(name); ok {
		AddSecret(value)
	}
	return
}

// ReplaceVars - support format ${CAMERA_PASSWORD} and ${RTSP_USER:admin}
func ReplaceVars(data []byte) []byte {
	re := regexp.MustCompile(`\${([^}{]+)}`)
	return re.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1])

		var def string
		var defok bool

		if i := strings.IndexByte(key, ':'); i > 0 {
			key, def = key[:i], key[i+1:]
			defok = true
		}

		if value, ok := GetValue(key); ok {
			return []byte(value)
		}

		if defok {
			return []byte(def)
		}

		return match
	})
}
