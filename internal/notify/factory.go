package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink names accepted by NewSink.
const (
	SinkLog        = "log"
	SinkWebsocket  = "websocket"
	SinkClickHouse = "clickhouse"
)

// Deps carries what the individual sinks need to be built.
type Deps struct {
	Hub           *Hub
	ClickHouseDSN string
}

// NewSink creates a sink based on the given name. The returned close
// function releases any connection the sink opened.
func NewSink(ctx context.Context, name string, logger *slog.Logger, deps Deps) (Sink, func() error, error) {
	noop := func() error { return nil }
	switch name {
	case SinkLog:
		return Sink{Name: name, Emitter: NewLogEmitter(logger)}, noop, nil
	case SinkWebsocket:
		if deps.Hub == nil {
			return Sink{}, nil, fmt.Errorf("websocket sink requires a hub")
		}
		return Sink{Name: name, Emitter: deps.Hub}, noop, nil
	case SinkClickHouse:
		if deps.ClickHouseDSN == "" {
			return Sink{}, nil, fmt.Errorf("clickhouse sink requires notify.clickhouse_dsn")
		}
		conn, err := NewConn(ctx, deps.ClickHouseDSN)
		if err != nil {
			return Sink{}, nil, err
		}
		archive := NewClickHouseArchive(conn)
		if err := archive.Migrate(ctx); err != nil {
			conn.Close()
			return Sink{}, nil, err
		}
		return Sink{Name: name, Emitter: archive}, conn.Close, nil
	default:
		return Sink{}, nil, fmt.Errorf("unknown notification sink: %s", name)
	}
}
