package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbridge/config"
	"chatbridge/internal/bridge"
	"chatbridge/internal/credentials"
	"chatbridge/internal/history"
	"chatbridge/internal/ipc"
	"chatbridge/internal/protocol"
	"chatbridge/pkg/db"
	"chatbridge/pkg/migration"
)

// Options locates everything the daemon owns on disk.
type Options struct {
	SocketPath   string
	SettingsPath string
	// PIDFile is locked for the daemon's lifetime; empty skips locking.
	PIDFile string
	// DatabasePath holds the exchange history; empty disables recording.
	DatabasePath string
	// LogPath redirects the standard logger; empty leaves it alone.
	LogPath string
	// WatchSettings rebuilds the runner when the settings file changes.
	WatchSettings bool
}

// DefaultOptions uses the paths under the chatbridge config directory.
func DefaultOptions() (Options, error) {
	socketPath, err := config.GetSocketPath()
	if err != nil {
		return Options{}, err
	}
	settingsPath, err := config.GetSettingsFile()
	if err != nil {
		return Options{}, err
	}
	pidFile, err := config.GetPIDFile()
	if err != nil {
		return Options{}, err
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return Options{}, err
	}
	logPath, err := config.GetDaemonLogPath()
	if err != nil {
		return Options{}, err
	}
	return Options{
		SocketPath:    socketPath,
		SettingsPath:  settingsPath,
		PIDFile:       pidFile,
		DatabasePath:  dbPath,
		LogPath:       logPath,
		WatchSettings: true,
	}, nil
}

type Server struct {
	opts     Options
	listener net.Listener
	lock     *processLock
	db       *db.DB
	history  *history.Store
	hub      *Hub[ipc.ChunkEvent]
	logFile  *os.File

	mu       sync.RWMutex
	runner   *bridge.Runner
	settings config.Settings

	ctx          context.Context
	cancel       context.CancelFunc
	stopWatching chan struct{}
	stopOnce     sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	connWG sync.WaitGroup
}

func NewServer(opts Options) (*Server, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}

	var lock *processLock
	if opts.PIDFile != "" {
		l, err := acquireProcessLock(opts.PIDFile)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	var logFile *os.File
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			lock.Release()
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		log.SetOutput(logFile)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	log.Printf("=== Daemon starting ===")
	if opts.LogPath != "" {
		log.Printf("Log file: %s", opts.LogPath)
	}

	fail := func(err error) (*Server, error) {
		if logFile != nil {
			logFile.Close()
		}
		lock.Release()
		return nil, err
	}

	log.Printf("Loading settings from: %s", opts.SettingsPath)
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return fail(err)
	}
	runner, err := buildRunner(settings)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:         opts,
		lock:         lock,
		hub:          NewHub[ipc.ChunkEvent](256),
		logFile:      logFile,
		runner:       runner,
		settings:     settings,
		ctx:          ctx,
		cancel:       cancel,
		stopWatching: make(chan struct{}),
		conns:        make(map[net.Conn]struct{}),
	}

	if opts.DatabasePath != "" {
		log.Printf("Opening database: %s", opts.DatabasePath)
		d, err := migration.Open(opts.DatabasePath)
		if err != nil {
			cancel()
			return fail(err)
		}
		s.db = d
		s.history = history.NewStore(d)
	}

	return s, nil
}

func buildRunner(settings config.Settings) (*bridge.Runner, error) {
	env, missing, err := credentials.Environ(settings.SecretEnv)
	if err != nil {
		return nil, err
	}
	for _, name := range missing {
		log.Printf("Secret %s is listed in secret_env but not stored", name)
	}
	return bridge.NewRunnerFromSettings(settings, env, log.Default())
}

// Reload re-reads the settings file and swaps in a new runner. On error the
// current runner stays in place.
func (s *Server) Reload() error {
	settings, err := config.LoadSettings(s.opts.SettingsPath)
	if err != nil {
		log.Printf("Error reloading settings: %v", err)
		return err
	}
	runner, err := buildRunner(settings)
	if err != nil {
		log.Printf("Error rebuilding runner: %v", err)
		return err
	}

	s.mu.Lock()
	s.runner = runner
	s.settings = settings
	s.mu.Unlock()

	log.Printf("Runner rebuilt: interpreter=%s mode=%s", settings.Interpreter, settings.Mode)
	return nil
}

func (s *Server) current() (*bridge.Runner, config.Settings) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runner, s.settings
}

// Hub exposes the event hub so in-process subscribers can follow streams.
func (s *Server) Hub() *Hub[ipc.ChunkEvent] { return s.hub }

// Start listens on the socket and serves until Stop is called.
func (s *Server) Start() (err error) {
	socketPath := s.opts.SocketPath
	_ = os.Remove(socketPath)

	defer func() {
		if err != nil {
			s.releaseLock()
		}
	}()

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	s.listener = l
	if err := os.Chmod(socketPath, 0600); err != nil {
		log.Printf("daemon: failed to update socket permissions: %v", err)
	}

	log.Printf("Daemon started, listening on %s", socketPath)

	if s.opts.WatchSettings && s.opts.SettingsPath != "" {
		go watchSettings(s.opts.SettingsPath, s.stopWatching, func() { _ = s.Reload() })
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("temporary accept error: %v", err)
				continue
			}
			return fmt.Errorf("daemon accept: %w", err)
		}
		if !s.trackConn(conn) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.untrackConn(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connWG.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	s.connWG.Done()
}

func writeResponse(conn net.Conn, resp ipc.Response) error {
	b, err := ipc.EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(b, '\n'))
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	connID := fmt.Sprintf("%p", conn)
	log.Printf("[Connection %s] New connection", connID)

	reader := bufio.NewReader(conn)
	requestCount := 0
	for {
		data, err := reader.ReadBytes('\n')
		if err != nil {
			log.Printf("[Connection %s] Connection closed after %d requests", connID, requestCount)
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		req, err := ipc.DecodeRequest(data)
		if err != nil {
			log.Printf("[Connection %s] Invalid request: %v", connID, err)
			_ = writeResponse(conn, ipc.Response{Success: false, Error: "invalid request"})
			continue
		}

		requestCount++
		log.Printf("[Connection %s] Request #%d: type=%s", connID, requestCount, req.Type)

		switch req.Type {
		case ipc.RequestWatch:
			log.Printf("[Connection %s] Switching to event streaming mode", connID)
			s.streamChunks(conn, connID)
			return
		case ipc.RequestStream:
			if err := s.streamInvocation(conn, connID, req); err != nil {
				log.Printf("[Connection %s] Stream aborted: %v", connID, err)
				return
			}
			continue
		}

		resp := s.processRequest(req)
		if err := writeResponse(conn, resp); err != nil {
			log.Printf("[Connection %s] Failed to write response: %v", connID, err)
			return
		}
		log.Printf("[Connection %s] Request #%d completed: success=%v", connID, requestCount, resp.Success)
	}
}

// streamChunks forwards every published chunk to conn until the client goes
// away or the daemon stops.
func (s *Server) streamChunks(conn net.Conn, connID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	events := s.hub.Subscribe(ctx, TopicStreamChunk)
	if err := writeResponse(conn, ipc.Response{Success: true}); err != nil {
		log.Printf("[Connection %s] Failed to write success response: %v", connID, err)
		return
	}

	encoder := json.NewEncoder(conn)
	eventCount := 0
	for ev := range events {
		eventCount++
		if err := encoder.Encode(ev); err != nil {
			log.Printf("[Connection %s] Failed to send event: %v", connID, err)
			return
		}
	}
	log.Printf("[Connection %s] Watcher finished after %d events", connID, eventCount)
}

// streamInvocation runs the streaming handler for req. Each unit is published
// on the hub and written to conn as it arrives; the final response follows.
// A write failure aborts the handler and is returned.
func (s *Server) streamInvocation(conn net.Conn, connID string, req ipc.Request) error {
	runner, settings := s.current()
	id := uuid.NewString()
	ctx := bridge.WithInvocationID(s.ctx, id)
	log.Printf("[Connection %s] [stream %s] starting", connID, id)

	encoder := json.NewEncoder(conn)
	collector := &bridge.Collector{}
	seq := 0
	emit := bridge.SinkFunc(func(unit protocol.StreamUnit) error {
		seq++
		ev := newChunkEvent(id, seq, unit)
		s.hub.Publish(TopicStreamChunk, ev)
		return encoder.Encode(ev)
	})

	started := time.Now()
	stats, err := runner.InvokeStreamStats(ctx, req.Message, bridge.MultiSink(emit, collector))

	resp := ipc.Response{Success: true}
	if err != nil {
		resp = ipc.ErrorResponse(err)
	}
	resp.Stats = ipc.NewStreamStats(stats)
	if s.record(settings, history.StreamExchange(id, req.Message, started, collector.Units(), stats, err)) {
		resp.ExchangeID = id
	}

	if bridge.KindOf(err) == bridge.KindSinkDelivery {
		return err
	}
	return writeResponse(conn, resp)
}

func (s *Server) shutdown() ipc.Response {
	go func() {
		time.Sleep(100 * time.Millisecond) // Give time to send response
		s.Stop()
	}()

	return ipc.Response{Success: true}
}

// processRequest routes request/response style requests.
func (s *Server) processRequest(req ipc.Request) ipc.Response {
	switch req.Type {
	case ipc.RequestCheck:
		runner, _ := s.current()
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		available := runner.Available(ctx)
		return ipc.Response{Success: true, Available: &available}
	case ipc.RequestSend:
		return s.send(req)
	case ipc.RequestHistory:
		return s.listHistory(req)
	case ipc.RequestShutdown:
		return s.shutdown()
	default:
		return ipc.Response{Success: false, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

func (s *Server) send(req ipc.Request) ipc.Response {
	runner, settings := s.current()
	id := uuid.NewString()
	ctx := bridge.WithInvocationID(s.ctx, id)

	started := time.Now()
	result, err := runner.Invoke(ctx, req.Message)

	var resp ipc.Response
	if err != nil {
		resp = ipc.ErrorResponse(err)
	} else {
		resp = ipc.Response{Success: true, Result: &result}
	}
	if s.record(settings, history.SyncExchange(id, req.Message, started, result, err)) {
		resp.ExchangeID = id
	}
	return resp
}

func (s *Server) listHistory(req ipc.Request) ipc.Response {
	if s.history == nil {
		return ipc.Response{Success: false, Error: "history is disabled"}
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if id := strings.TrimSpace(req.ExchangeID); id != "" {
		ex, err := s.history.Get(ctx, id)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		return ipc.Response{Success: true, Exchanges: []history.Exchange{ex}}
	}

	exchanges, err := s.history.List(ctx, req.Limit)
	if err != nil {
		return ipc.Response{Success: false, Error: err.Error()}
	}
	return ipc.Response{Success: true, Exchanges: exchanges}
}

// record stores ex when history is enabled and reports whether it was saved.
func (s *Server) record(settings config.Settings, ex history.Exchange) bool {
	if s.history == nil || !settings.History {
		return false
	}
	// Recording must survive a shutdown that canceled the invocation itself.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, &ex); err != nil {
		log.Printf("Failed to record exchange %s: %v", ex.ID, err)
		return false
	}
	return true
}

// Stop cancels in-flight invocations, closes every connection and releases
// the socket, database and lock. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.Printf("=== Daemon stopping ===")

		s.connMu.Lock()
		s.cancel()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()

		close(s.stopWatching)
		s.hub.Shutdown()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.connWG.Wait()

		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}
		_ = os.Remove(s.opts.SocketPath)
		s.releaseLock()
		if s.logFile != nil {
			log.Printf("Daemon stopped")
			log.SetOutput(os.Stderr)
			_ = s.logFile.Close()
			s.logFile = nil
		}
	})
}

func (s *Server) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(); err != nil {
		log.Printf("failed to release daemon lock: %v", err)
	}
	s.lock = nil
}
