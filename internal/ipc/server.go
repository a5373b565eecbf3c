package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"crunch/internal/daemon"
	"crunch/internal/logging"
)

const (
	maxEventWait        = 30 * time.Second
	defaultEventLimit   = 200
	defaultHistoryLimit = 20
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart crunchd if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Plan(req PlanRequest, resp *PlanResponse) error {
	result, err := s.daemon.Plan(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *service) Start(req StartRequest, resp *StartResponse) error {
	s.log().Debug("batch start requested",
		logging.Int("files", len(req.Files)),
		logging.String("presets", strings.Join(req.Presets, ",")))
	result, err := s.daemon.StartBatch(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = result
	s.log().Info("batch started via IPC",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.String(logging.FieldBatchID, result.BatchID),
		logging.Int("tasks", result.Tasks))
	return nil
}

func (s *service) Cancel(_ CancelRequest, resp *CancelResponse) error {
	id := s.daemon.Status().Batch.BatchID
	if err := s.daemon.Cancel(); err != nil {
		return err
	}
	resp.BatchID = id
	s.log().Info("batch cancelled via IPC",
		logging.String(logging.FieldEventType, "batch_cancel"),
		logging.String(logging.FieldBatchID, id))
	return nil
}

func (s *service) Teardown(_ TeardownRequest, resp *TeardownResponse) error {
	id := s.daemon.Status().Batch.BatchID
	if err := s.daemon.Teardown(); err != nil {
		return err
	}
	resp.BatchID = id
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status()
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if req.Tail {
		resp.Events, resp.Next = s.daemon.Hub().Tail(limit)
		return nil
	}

	wait := min(time.Duration(req.WaitMillis)*time.Millisecond, maxEventWait)
	ctx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	evts, next, err := s.daemon.Events(ctx, req.Since, limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Events = evts
	resp.Next = max(next, req.Since)
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	store := s.daemon.HistoryStore()
	if store == nil {
		return nil
	}
	resp.Enabled = true
	if id := strings.TrimSpace(req.ID); id != "" {
		summary, err := store.Get(s.ctx, id)
		if err != nil {
			return err
		}
		resp.Batches = append(resp.Batches, summary)
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	batches, err := store.List(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Batches = batches
	return nil
}

func (s *service) Presets(_ PresetsRequest, resp *PresetsResponse) error {
	resp.Presets = s.daemon.Catalog().All()
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if strings.TrimSpace(s.daemon.Config().Notifications.NtfyTopic) == "" {
		resp.Message = "notifications disabled: notifications.ntfy_topic is not set"
		return nil
	}
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	return nil
}
