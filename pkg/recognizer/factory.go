package recognizer

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/cadenhq/speechwire/pkg/auth"
	"github.com/cadenhq/speechwire/pkg/connection"
	"github.com/cadenhq/speechwire/pkg/events"
)

// ConnectionFactory builds a fresh connection for one recognition turn.
// The recognizer creates a new connection per connection id; reuse is
// handled above the factory.
type ConnectionFactory interface {
	Create(cfg Config, info auth.Info, connectionID string) (*connection.Connection, error)
}

const connectionIDHeader = "X-ConnectionId"

// WebSocketFactory derives the service URL from the config and dials it
// over websocket.
type WebSocketFactory struct {
	// Dialer overrides the transport, mainly for tests. Nil means the
	// default websocket dialer.
	Dialer connection.Dialer

	// Observer, when set, is attached to every created connection's
	// diagnostic event source.
	Observer events.Listener
}

var _ ConnectionFactory = (*WebSocketFactory)(nil)

func (f *WebSocketFactory) Create(cfg Config, info auth.Info, connectionID string) (*connection.Connection, error) {
	endpoint, err := serviceEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(info.HeaderName, info.Token)
	headers.Set(connectionIDHeader, connectionID)

	opts := []connection.Option{}
	if f.Dialer != nil {
		opts = append(opts, connection.WithDialer(f.Dialer))
	}
	conn := connection.New(endpoint, headers, connectionID, opts...)
	if f.Observer != nil {
		if _, err := conn.Events().Attach(f.Observer); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// serviceEndpoint builds the websocket URL for the configured mode. An
// explicit endpoint in the config wins; query parameters are still
// appended to it.
func serviceEndpoint(cfg Config) (string, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return "", err
	}

	raw := cfg.Endpoint
	if raw == "" {
		if len(cfg.TargetLanguages) > 0 {
			raw = "wss://" + cfg.Region + ".s2s.speech.microsoft.com/speech/translation/cognitiveservices/v1"
		} else {
			raw = "wss://" + cfg.Region + ".stt.speech.microsoft.com/speech/recognition/" +
				cfg.Mode.String() + "/cognitiveservices/v1"
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	query := u.Query()
	if len(cfg.TargetLanguages) > 0 {
		query.Set("from", cfg.Language)
		query.Set("to", strings.Join(cfg.TargetLanguages, ","))
		if cfg.SynthesisVoice != "" {
			query.Set("voice", cfg.SynthesisVoice)
			query.Set("features", "texttospeech")
		}
	} else {
		query.Set("language", cfg.Language)
	}
	query.Set("format", cfg.Format.String())
	u.RawQuery = query.Encode()
	return u.String(), nil
}
