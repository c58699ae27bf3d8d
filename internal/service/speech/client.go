package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
)

const (
	asrEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
)

// ErrNotConfigured 缺少火山引擎凭证。
var ErrNotConfigured = errors.New("speech credentials not configured")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrNotConfigured
	}
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("%w: missing app id or access token", ErrNotConfigured)
	}
	return appID, token, nil
}

// dialer 封装一次 openspeech websocket 握手。
type dialer struct {
	cfg *speechmodel.SpeechConfig
	ws  *websocket.Dialer
}

func newDialer(cfg *speechmodel.SpeechConfig) dialer {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return dialer{cfg: cfg, ws: &websocket.Dialer{HandshakeTimeout: timeout}}
}

func (d dialer) dial(ctx context.Context, endpoint, resourceID, connectID, tag string) (*websocket.Conn, error) {
	appID, token, err := resolveCredentials(d.cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := d.ws.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", tag, err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[%s] connected with logid: %s", tag, logid)
		}
	}
	return conn, nil
}
