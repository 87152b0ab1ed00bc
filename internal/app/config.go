package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/yaml"
)

// LoadConfig decodes all config layers into v. Later layers change only the
// keys they have, so -config cameras.garage.profile=... keeps the host.
func LoadConfig(v any) {
	if err := yaml.Merge(v, configs...); err != nil {
		Logger.Warn().Err(err).Msg("[app] read config")
	}
}

var ErrConfigDisabled = errors.New("config file disabled")

// PatchConfig writes one key to the config file keeping its formatting.
// Values with passwords are rejected by yaml.Patch.
func PatchConfig(key string, value any, path ...string) error {
	if ConfigPath == "" {
		return ErrConfigDisabled
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	// empty config is OK
	b, _ := os.ReadFile(ConfigPath)

	b, err := yaml.Patch(b, key, value, path...)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath, b, 0644)
}

var patchMu sync.Mutex

type flagConfig []string

func (c *flagConfig) String() string {
	return strings.Join(*c, " ")
}

func (c *flagConfig) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var configs [][]byte

func initConfig(confs flagConfig) {
	if confs == nil {
		confs = []string{"camtap.yaml"}
	}

	for _, conf := range confs {
		if len(conf) == 0 {
			continue
		}
		if conf[0] == '{' {
			// config as raw YAML or JSON
			configs = append(configs, []byte(conf))
		} else if data := parseConfString(conf); data != nil {
			configs = append(configs, data)
		} else {
			// config as file
			if ConfigPath == "" {
				ConfigPath = conf
			}

			if data, _ = os.ReadFile(conf); data == nil {
				continue
			}

			configs = append(configs, creds.ReplaceVars(data))
		}
	}

	if ConfigPath != "" {
		if !filepath.IsAbs(ConfigPath) {
			if cwd, err := os.Getwd(); err == nil {
				ConfigPath = filepath.Join(cwd, ConfigPath)
			}
		}
		Info["config_path"] = ConfigPath
	}
}

func parseConfString(s string) []byte {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return nil
	}

	items := strings.Split(s[:i], ".")
	if len(items) < 2 {
		return nil
	}

	// `log.level=trace` => `{log: {level: trace}}`
	var pre string
	var suf = s[i+1:]
	for _, item := range items {
		pre += "{" + item + ": "
		suf += "}"
	}

	return []byte(pre + suf)
}
