package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"copy-relay/internal/config"
)

// MessageFunc 在流上每收到一条原始消息时被调用。
// 同一条流上的回调串行执行，保证单账户事件顺序。
type MessageFunc func(raw []byte)

// CloseFunc 在流终止时被调用，无论是本端关闭还是远端断开，仅触发一次。
type CloseFunc func(err error)

// Stream 为一条已建立的用户数据流连接。
type Stream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// OpenStream 用令牌建立 websocket 连接并启动读循环。
// onMessage 逐条收到原始消息；onClose 在连接终止时收到终止原因。
func OpenStream(ctx context.Context, cfg config.StreamConfig, base string, token SessionToken, onMessage MessageFunc, onClose CloseFunc, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := strings.TrimRight(base, "/") + "/" + string(token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 90 * time.Second
	}

	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().UTC().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go s.readLoop(readTimeout, onMessage, onClose)

	return s, nil
}

func (s *Stream) readLoop(readTimeout time.Duration, onMessage MessageFunc, onClose CloseFunc) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().UTC().Add(readTimeout))
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// 本端主动关闭，不算异常。
				s.fireClose(onClose, nil)
			default:
				s.logger.Warn("流读取中断", zap.Error(err))
				s.fireClose(onClose, err)
			}
			return
		}

		onMessage(message)
	}
}

func (s *Stream) fireClose(onClose CloseFunc, err error) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		if onClose != nil {
			onClose(err)
		}
	})
}

// Close 主动关闭连接；读循环退出后触发 onClose(nil)。并发调用安全，
// 只有第一次调用执行关闭。
func (s *Stream) Close() error {
	first := false
	s.doneOnce.Do(func() {
		close(s.done)
		first = true
	})
	if !first {
		return ErrStreamClosed
	}

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
