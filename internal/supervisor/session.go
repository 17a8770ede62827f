package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"copy-relay/internal/event"
	"copy-relay/internal/gateway"
	"copy-relay/internal/store"
)

// StreamHandle 为一条已建立的流连接。
type StreamHandle interface {
	Close() error
}

// Gateway 为会话依赖的交易所网关能力。
type Gateway interface {
	NewSessionToken(ctx context.Context, creds gateway.Credentials) (gateway.SessionToken, error)
	KeepAliveToken(ctx context.Context, creds gateway.Credentials, token gateway.SessionToken) error
	CloseToken(ctx context.Context, creds gateway.Credentials, token gateway.SessionToken) error
	OpenStream(ctx context.Context, token gateway.SessionToken, onMessage gateway.MessageFunc, onClose gateway.CloseFunc) (StreamHandle, error)
}

type accountFlags interface {
	ClaimStream(ctx context.Context, traderID int64) (bool, error)
	ReleaseStream(ctx context.Context, traderID int64) error
}

type eventSink interface {
	Dispatch(ctx context.Context, trader store.Trader, evt event.Event)
}

// State 为会话状态机的当前位置。
type State int32

const (
	StateIdle State = iota
	StateTokenRequested
	StateOpen
	StateRenewing
	StateClosed
)

// String 实现 fmt.Stringer。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenRequested:
		return "token_requested"
	case StateOpen:
		return "open"
	case StateRenewing:
		return "renewing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 管理一个带单账户的流会话：申请令牌、建流、标记占用、
// 周期续期直到显式关闭或流断开，最后归还标记。
// Closed 对单个会话实例是终态；账户之后由调度器重新建流。
type Session struct {
	trader        store.Trader
	gw            Gateway
	flags         accountFlags
	sink          eventSink
	renewInterval time.Duration
	logger        *zap.Logger

	creds gateway.Credentials
	token gateway.SessionToken

	// mu 串行化抢占与清理的先后关系：流可能在建立后、抢占完成前
	// 就被断开，此时 finish 先于 claimed 赋值执行。
	mu       sync.Mutex
	handle   StreamHandle
	claimed  bool
	finished bool

	runCtx   context.Context
	state    atomic.Int32
	closed   chan struct{}
	teardown sync.Once
}

// NewSession 创建一次流会话。
func NewSession(trader store.Trader, gw Gateway, flags accountFlags, sink eventSink, renewInterval time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renewInterval <= 0 {
		renewInterval = 30 * time.Minute
	}

	s := &Session{
		trader:        trader,
		gw:            gw,
		flags:         flags,
		sink:          sink,
		renewInterval: renewInterval,
		logger: logger.With(
			zap.Int64("trader_id", trader.ID),
			zap.String("trader_email", trader.Email),
		),
		closed: make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State 返回会话当前状态。
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run 驱动一次完整的会话生命周期，阻塞直到会话终止。
// 任何启动阶段的失败都不改动 stream_open，账户留给下一个调度周期重试。
func (s *Session) Run(ctx context.Context) {
	s.runCtx = ctx
	s.creds = gateway.Credentials{APIKey: s.trader.APIKey, APISecret: s.trader.APISecret}

	s.setState(StateTokenRequested)
	token, err := s.gw.NewSessionToken(ctx, s.creds)
	if err != nil {
		s.setState(StateClosed)
		s.logger.Warn("申请流令牌失败", zap.Error(err))
		return
	}
	s.token = token

	handle, err := s.gw.OpenStream(ctx, token, s.onMessage, s.onClose)
	if err != nil {
		s.logger.Warn("打开流失败", zap.Error(err))
		s.closeToken()
		s.setState(StateClosed)
		return
	}
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	// 流已实际建立，才允许翻转标记；抢占失败说明另一个会话已持有。
	won, err := s.flags.ClaimStream(ctx, s.trader.ID)
	if err != nil {
		s.logger.Error("抢占流标记失败", zap.Error(err))
		s.finish()
		return
	}
	if !won {
		s.logger.Warn("账户的流已被其他会话持有，本会话退出")
		s.finish()
		return
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		// 流在抢占完成前就断开了，清理已经跑完；标记在这里归还，
		// 账户下个调度周期重新建流。
		s.logger.Warn("流在抢占完成前断开，归还流标记")
		s.releaseFlag()
		return
	}
	s.claimed = true
	s.mu.Unlock()

	// 清理可能已并发执行完，不能把 Closed 覆盖回 Open。
	s.state.CompareAndSwap(int32(StateTokenRequested), int32(StateOpen))
	s.logger.Info("流会话已建立")

	ticker := time.NewTicker(s.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到显式关闭，结束流会话")
			s.finish()
			return
		case <-s.closed:
			// 流已断开，onClose 完成了清理。
			return
		case <-ticker.C:
			s.setState(StateRenewing)
			if err := s.gw.KeepAliveToken(ctx, s.creds, s.token); err != nil {
				// 续期失败本身不终止会话；令牌过期后网关会断流，
				// 届时关闭回调把账户交还给调度器。
				s.logger.Warn("续期流令牌失败", zap.Error(err))
			}
			// 续期期间流可能已被断开，不能覆盖 Closed。
			s.state.CompareAndSwap(int32(StateRenewing), int32(StateOpen))
		}
	}
}

func (s *Session) onMessage(raw []byte) {
	evt, err := event.Classify(raw)
	if err != nil {
		if errors.Is(err, event.ErrUnknownKind) {
			s.logger.Warn("忽略未知类型的流消息", zap.Error(err))
		} else {
			s.logger.Error("流消息校验失败，已丢弃", zap.Error(err))
		}
		return
	}

	s.sink.Dispatch(s.runCtx, s.trader, evt)
}

func (s *Session) onClose(err error) {
	if err != nil {
		s.logger.Warn("流被断开", zap.Error(err))
	}
	s.finish()
}

// finish 收回会话资源并归还流标记，幂等。
// 只有成功抢占过标记的会话才释放它，避免覆盖后继会话的占用；
// 若清理先于抢占完成，标记由 Run 的抢占路径归还。
func (s *Session) finish() {
	s.teardown.Do(func() {
		s.mu.Lock()
		s.finished = true
		handle := s.handle
		claimed := s.claimed
		s.mu.Unlock()

		if handle != nil {
			_ = handle.Close()
		}
		s.closeToken()

		if claimed {
			s.releaseFlag()
		}

		s.setState(StateClosed)
		close(s.closed)
		s.logger.Info("流会话已结束")
	})
}

func (s *Session) releaseFlag() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.flags.ReleaseStream(ctx, s.trader.ID); err != nil {
		s.logger.Error("释放流标记失败", zap.Error(err))
	}
}

func (s *Session) closeToken() {
	if s.token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.gw.CloseToken(ctx, s.creds, s.token); err != nil {
		s.logger.Warn("注销流令牌失败", zap.Error(err))
	}
}
