package app

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

var Version = "0.4.0"
var UserAgent = "camtap/" + Version

var ConfigPath string
var Info = map[string]any{
	"version": Version,
}

// DiscoverOnly is set by the -discover flag: run one discovery round and exit.
var DiscoverOnly bool

func Init() {
	var confs flagConfig
	var version bool

	flag.Var(&confs, "config", "camtap config (path to file or raw text), support multiple")
	flag.BoolVar(&version, "version", false, "Print the version of the application and exit")
	flag.BoolVar(&DiscoverOnly, "discover", false, "Print cameras found on the local network and exit")
	flag.Parse()

	if version {
		fmt.Printf("camtap version %s%s %s/%s\n", Version, revision(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	initConfig(confs)
	initLogger()

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Logger.Info().Str("version", Version).Str("platform", platform).Msg("camtap")
	Logger.Debug().Str("version", runtime.Version()).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	var rev string
	var ts time.Time

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
			if len(rev) > 7 {
				rev = rev[:7]
			}
		case "vcs.time":
			ts, _ = time.Parse(time.RFC3339, setting.Value)
		}
	}

	if rev == "" {
		return ""
	}
	return fmt.Sprintf(" (%s %s)", rev, ts.Local().Format(time.DateOnly))
}
