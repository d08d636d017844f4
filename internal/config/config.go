// Package config resolves the server's runtime configuration from
// flags and environment variables.
package config

import (
	"flag"
	"os"
)

// Config holds every knob the server needs to start.
type Config struct {
	Host         string
	TCPPort      int
	HTTPPort     int
	WordListPath string
	Debug        bool
}

const (
	defaultTCPPort  = 9189
	defaultHTTPPort = 9190
)

// Load parses flags into a Config. The host, word-list and debug flags
// default to the HOST, WORD_LIST and DEBUG environment variables, then
// to hardcoded values; the two port flags default to hardcoded values
// only. It does not load a .env file itself; callers load one with
// godotenv before calling Load so that those environment lookups see
// any variables it exports.
func Load() *Config {
	host := flag.String("host", getEnvDefault("HOST", ""), "bind host for TCP and HTTP listeners (empty = all interfaces)")
	tcpPort := flag.Int("tcp-port", defaultTCPPort, "TCP port for the sensor RPC surface")
	httpPort := flag.Int("http-port", defaultHTTPPort, "HTTP port for the match control surface")
	wordList := flag.String("word-list", getEnvDefault("WORD_LIST", "words.txt"), "path to the newline-delimited challenge word list")
	debug := flag.Bool("debug", os.Getenv("DEBUG") == "1", "enable debug logging")

	flag.Parse()

	return &Config{
		Host:         *host,
		TCPPort:      *tcpPort,
		HTTPPort:     *httpPort,
		WordListPath: *wordList,
		Debug:        *debug,
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
