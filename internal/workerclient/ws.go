package workerclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/models"
)

// DialProgress opens a websocket to a worker's push channel. Basic auth is
// sent in the handshake when credentials are provided.
func DialProgress(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials, clientID string) (*websocket.Conn, error) {
	wsURL := common.WebSocketURL(worker.URL)
	if clientID != "" {
		wsURL += "?clientId=" + clientID
	}

	header := http.Header{}
	if creds != nil {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		header.Set("Authorization", "Basic "+token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake to %s failed with http %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial to %s failed: %w", wsURL, err)
	}
	return conn, nil
}
