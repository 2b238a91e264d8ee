// Package sshfrontend is the SSH listener, authenticator, and
// channel/PTY negotiator: the accept loop admits and rate-limits
// connections, drives the key exchange and password/none auth, and
// negotiates a session or exec channel before handing off to a
// per-connection worker running the session input FSM.
package sshfrontend

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/ehrlich-b/tnt/internal/config"
	"github.com/ehrlich-b/tnt/internal/logger"
	"github.com/ehrlich-b/tnt/internal/msglog"
	"github.com/ehrlich-b/tnt/internal/room"
	"github.com/ehrlich-b/tnt/internal/session"
)

// authDenialDelay is the fixed delay applied after a failed auth
// attempt or a blocked connection, in place of a constant-time
// comparison: the spec calls out that timing-safety isn't required
// here, only a deliberate pause.
const authDenialDelay = 2 * time.Second

// eventLoopTimeout bounds the whole key-exchange-through-shell/exec
// negotiation per incoming connection.
const eventLoopTimeout = 30 * time.Second

// workerReadTimeout is the liveness-probe interval for the per-session
// read loop; it never causes a disconnect by itself.
const workerReadTimeout = 30 * time.Second

// Server is the SSH front end: one listener, one rate limiter, one
// admission counter, serving a single shared Room.
type Server struct {
	cfg      *config.Config
	rm       *room.Room
	logs     *msglog.Log
	renderer room.Renderer
	signer   ssh.Signer

	limiter   *RateLimiter
	admission *admissionCounter

	listener net.Listener
}

// New provisions the host key and builds a Server bound to cfg, rm,
// logs and renderer, but does not yet listen.
func New(cfg *config.Config, rm *room.Room, logs *msglog.Log, renderer room.Renderer) (*Server, error) {
	signer, err := loadOrGenerateHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("provision host key: %w", err)
	}
	return &Server{
		cfg:       cfg,
		rm:        rm,
		logs:      logs,
		renderer:  renderer,
		signer:    signer,
		limiter:   NewRateLimiter(),
		admission: newAdmissionCounter(cfg.MaxConnections, cfg.MaxConnPerIP),
	}, nil
}

// ListenAndServe binds the configured address and accepts connections
// until ctx is cancelled, at which point the listener is closed and
// ListenAndServe returns nil.
func (s *Server) ListenAndServe(ctx ctxDoner) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("ssh front-end listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("accept error", "err", err)
				continue
			}
		}
		go s.handleConn(conn)
	}
}

// ctxDoner is the narrow slice of context.Context this package needs,
// kept small so tests can pass a bare channel-backed stand-in.
type ctxDoner interface {
	Done() <-chan struct{}
}

func peerIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func (s *Server) handleConn(conn net.Conn) {
	ip := peerIP(conn.RemoteAddr())
	id := uuid.New().String()[:8]

	if s.cfg.RateLimit && !s.limiter.AllowConnection(ip) {
		logger.Warn("connection rate-limited", "session", id, "ip", ip)
		time.Sleep(authDenialDelay)
		conn.Close()
		return
	}
	if !s.admission.tryAdmit(ip) {
		logger.Warn("connection rejected: admission limit reached", "session", id, "ip", ip)
		conn.Close()
		return
	}

	logger.Info("connection accepted", "session", id, "ip", ip)

	sshConf := s.buildServerConfig(id, ip)
	sshConf.AddHostKey(s.signer)

	result := make(chan *establishedSession, 1)
	failure := make(chan error, 1)
	go s.negotiate(conn, sshConf, id, ip, result, failure)

	select {
	case res := <-result:
		go s.runWorker(res, ip)
	case err := <-failure:
		logger.Warn("negotiation failed", "session", id, "ip", ip, "err", err)
		s.admission.release(ip)
		conn.Close()
	case <-time.After(eventLoopTimeout):
		logger.Warn("negotiation timed out", "session", id, "ip", ip)
		s.admission.release(ip)
		conn.Close()
	}
}

// buildServerConfig advertises password and, when no access token is
// configured, "none" auth. A configured token must match byte for
// byte; a mismatch records an auth failure and pauses before denying.
func (s *Server) buildServerConfig(id, ip string) *ssh.ServerConfig {
	token := s.cfg.AccessToken
	conf := &ssh.ServerConfig{
		MaxAuthTries: 3,
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if token == "" {
				return &ssh.Permissions{}, nil
			}
			if bytes.Equal(password, []byte(token)) {
				return &ssh.Permissions{}, nil
			}
			logger.Warn("auth failed", "session", id, "ip", ip)
			s.limiter.RecordAuthFailure(ip)
			time.Sleep(authDenialDelay)
			return nil, fmt.Errorf("invalid access token")
		},
	}
	if token == "" {
		conf.NoClientAuth = true
	}
	return conf
}

// establishedSession is everything the worker needs once the accept
// loop's three-condition event loop has succeeded.
type establishedSession struct {
	id            string
	conn          *ssh.ServerConn
	channel       ssh.Channel
	requests      <-chan *ssh.Request
	width, height int
	execCmd       string
	isExec        bool
}

// negotiate drives the key exchange, waits for the one session
// channel, and waits for either a pty-req followed by shell/exec, or a
// bare shell/exec. It reports exactly one of result or failure.
func (s *Server) negotiate(conn net.Conn, sshConf *ssh.ServerConfig, id, ip string, result chan<- *establishedSession, failure chan<- error) {
	sconn, chans, globalReqs, err := ssh.NewServerConn(conn, sshConf)
	if err != nil {
		failure <- err
		return
	}
	go ssh.DiscardRequests(globalReqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newCh.Accept()
		if err != nil {
			failure <- err
			return
		}

		width, height := 80, 24
		for req := range requests {
			switch req.Type {
			case "pty-req":
				if pty, ok := parsePtyRequest(req.Payload); ok && pty.cols > 0 && pty.rows > 0 {
					width, height = int(pty.cols), int(pty.rows)
				} else if !ok {
					logger.Warn("malformed pty-req payload", "session", id, "ip", ip)
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			case "window-change":
				if cols, rows, ok := parseWindowChange(req.Payload); ok && cols > 0 && rows > 0 {
					width, height = int(cols), int(rows)
				} else if !ok {
					logger.Warn("malformed window-change payload", "session", id, "ip", ip)
				}
			case "shell":
				if req.WantReply {
					req.Reply(true, nil)
				}
				result <- &establishedSession{id: id, conn: sconn, channel: channel, requests: requests, width: width, height: height}
				return
			case "exec":
				cmd, ok := parseExecCommand(req.Payload)
				if !ok {
					logger.Warn("malformed exec payload", "session", id, "ip", ip)
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
				result <- &establishedSession{id: id, conn: sconn, channel: channel, requests: requests, width: width, height: height, execCmd: cmd, isExec: true}
				return
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
		failure <- fmt.Errorf("sshfrontend: channel closed before shell/exec request")
		return
	}
	failure <- fmt.Errorf("sshfrontend: no session channel opened")
}

// runWorker owns the connection from here on: it either serves the
// literal "exit" exec command, or prompts for a username, joins the
// room, and drives the session FSM until disconnect.
func (s *Server) runWorker(res *establishedSession, ip string) {
	defer s.admission.release(ip)
	defer res.conn.Close()

	go discardRequests(res.requests)

	if res.isExec {
		handleExec(res)
		return
	}

	tr := newTimeoutReader(res.channel)
	name, err := readUsername(res.channel, tr)
	if err != nil {
		logger.Warn("username entry failed", "session", res.id, "ip", ip, "err", err)
		res.channel.Close()
		return
	}

	sess := session.New(res.id, res.channel, res.conn, res.width, res.height, s.rm, s.renderer, s.logs)
	sess.SetDisplayName(name)

	if err := s.rm.AddSession(sess); err != nil {
		logger.Warn("session rejected: room full", "session", res.id, "ip", ip)
		io.WriteString(res.channel, "room is full, try again later\r\n")
		sess.Unref()
		return
	}
	logger.Info("session joined", "session", res.id, "ip", ip, "username", name)
	sess.Join()
	s.renderer.RenderMain(s.rm, sess)

	defer func() {
		logger.Info("session teardown", "session", res.id, "ip", ip)
		sess.Leave()
		s.rm.RemoveSession(sess)
		sess.Unref()
	}()

	for {
		b, ok, err := tr.ReadByte(workerReadTimeout)
		if err != nil {
			return
		}
		if !ok {
			continue // liveness timeout, nothing pending
		}
		if sess.HandleByte(b, tr.ReadByteBlocking) {
			return
		}
	}
}

// handleExec reports exit status 0 for the literal "exit" command and
// refuses everything else with status 1; neither case touches the room.
func handleExec(res *establishedSession) {
	status := uint32(1)
	if res.execCmd == "exit" {
		status = 0
	} else {
		io.WriteString(res.channel, "only the 'exit' command is supported\r\n")
	}
	logger.Info("exec session handled", "session", res.id, "cmd", res.execCmd, "status", status)
	res.channel.SendRequest("exit-status", false, marshalUint32(status))
	res.channel.Close()
}

func discardRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}
