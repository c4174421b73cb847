package envconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// Set via KWS_HOST in the environment
	Host string
	// Set via KWS_DEBUG in the environment
	Debug bool
	// Set via KWS_GRAPHS in the environment
	GraphsDir string
	// Set via KWS_MAX_SESSIONS in the environment
	MaxSessions int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"KWS_HOST":         {"KWS_HOST", Host, "IP address and port for the server (default 127.0.0.1:11400)"},
		"KWS_DEBUG":        {"KWS_DEBUG", Debug, "Show additional debug information (e.g. KWS_DEBUG=1)"},
		"KWS_GRAPHS":       {"KWS_GRAPHS", GraphsDir, "The path to the graphs directory"},
		"KWS_MAX_SESSIONS": {"KWS_MAX_SESSIONS", MaxSessions, "Maximum number of live streaming sessions (default 16)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	Host = "127.0.0.1:11400"
	MaxSessions = 16

	LoadConfig()

	if GraphsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			GraphsDir = filepath.Join(home, ".kws", "graphs")
		}
	}
}

func LoadConfig() {
	if host := clean("KWS_HOST"); host != "" {
		if _, _, err := net.SplitHostPort(host); err == nil {
			Host = host
		} else {
			Host = net.JoinHostPort(host, "11400")
		}
	}

	if debug := clean("KWS_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	if dir := clean("KWS_GRAPHS"); dir != "" {
		GraphsDir = dir
	}

	if m := clean("KWS_MAX_SESSIONS"); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil && n > 0 {
			MaxSessions = n
		}
	}
}
