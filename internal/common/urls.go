package common

import (
	"strings"
)

// NormalizeWorkerURL canonicalizes a worker base URL by trimming whitespace
// and the trailing slash. Two registrations of "http://w1" and "http://w1/"
// refer to the same worker.
func NormalizeWorkerURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// WebSocketURL converts a worker HTTP base URL into the URL of its push
// channel, e.g. "http://w1" -> "ws://w1/ws".
func WebSocketURL(baseURL string) string {
	url := NormalizeWorkerURL(baseURL)
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
