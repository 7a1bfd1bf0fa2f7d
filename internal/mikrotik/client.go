package mikrotik

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// RouterConfig identifies a router and the API credentials to use.
type RouterConfig struct {
	ID       uint
	Name     string
	Address  string // host:port
	Username string
	Password string
	UseSSL   bool
}

// Reply is the full answer to one command.
type Reply struct {
	Re   []map[string]string
	Done map[string]string
}

// Client represents one authenticated RouterOS API connection
type Client struct {
	address  string
	username string
	password string

	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex

	commandTimeout time.Duration
	createdAt      time.Time
	lastUsedAt     time.Time
}

// Dial connects and logs in, over TLS when cfg.UseSSL is set.
func Dial(ctx context.Context, cfg RouterConfig, connectTimeout, commandTimeout time.Duration) (*Client, error) {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if commandTimeout <= 0 {
		commandTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	var conn net.Conn
	var err error
	if cfg.UseSSL {
		td := &tls.Dialer{
			NetDialer: dialer,
			// RouterOS ships self-signed API certificates
			Config: &tls.Config{InsecureSkipVerify: true},
		}
		conn, err = td.DialContext(ctx, "tcp", cfg.Address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Address, err)
	}

	now := time.Now()
	c := &Client{
		address:        cfg.Address,
		username:       cfg.Username,
		password:       cfg.Password,
		conn:           conn,
		r:              bufio.NewReader(conn),
		commandTimeout: commandTimeout,
		createdAt:      now,
		lastUsedAt:     now,
	}

	if err := c.login(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// login tries the post-6.43 plain login and falls back to the MD5 challenge
// when the router answers with =ret=.
func (c *Client) login(ctx context.Context) error {
	reply, err := c.Exec(ctx, "/login", "=name="+c.username, "=password="+c.password)
	if err != nil {
		var trap *TrapError
		if errors.As(err, &trap) {
			return &AuthError{Address: c.address, Message: trap.Message}
		}
		return fmt.Errorf("login %s: %w", c.address, err)
	}

	challenge, ok := reply.Done["ret"]
	if !ok {
		return nil
	}
	return c.challengeLogin(ctx, challenge)
}

// challengeLogin performs the old-style MD5 challenge-response login
func (c *Client) challengeLogin(ctx context.Context, challenge string) error {
	challengeBytes, err := hex.DecodeString(challenge)
	if err != nil {
		return fmt.Errorf("login %s: bad challenge: %w", c.address, err)
	}

	// MD5 of 0x00 + password + challenge
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(c.password))
	h.Write(challengeBytes)
	response := "00" + hex.EncodeToString(h.Sum(nil))

	if _, err := c.Exec(ctx, "/login", "=name="+c.username, "=response="+response); err != nil {
		var trap *TrapError
		if errors.As(err, &trap) {
			return &AuthError{Address: c.address, Message: trap.Message}
		}
		return fmt.Errorf("login %s: %w", c.address, err)
	}
	return nil
}

// Run sends a command and returns the attributes of every !re sentence.
func (c *Client) Run(ctx context.Context, command string, args ...string) ([]map[string]string, error) {
	reply, err := c.Exec(ctx, command, args...)
	if err != nil {
		return nil, err
	}
	return reply.Re, nil
}

// Exec sends a command and reads sentences until !done. A !trap is returned
// as *TrapError once the router has finished the reply.
func (c *Client) Exec(ctx context.Context, command string, args ...string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.commandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer c.conn.SetDeadline(time.Time{})

	words := append([]string{command}, args...)
	if err := WriteSentence(c.conn, words...); err != nil {
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	reply := &Reply{}
	var trap *TrapError
	for {
		raw, err := ReadSentence(c.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read %s: connection closed: %w", command, err)
			}
			return nil, fmt.Errorf("read %s: %w", command, err)
		}
		if len(raw) == 0 {
			continue
		}

		s := ParseSentence(raw)
		switch s.Reply {
		case replyRe:
			reply.Re = append(reply.Re, s.Attrs)
		case replyTrap:
			if trap == nil {
				trap = &TrapError{Category: s.Attrs["category"], Message: s.Attrs["message"]}
			}
		case replyFatal:
			c.conn.Close()
			msg := s.Attrs["message"]
			if msg == "" && len(raw) > 1 {
				msg = raw[1]
			}
			return nil, &FatalError{Message: msg}
		case replyDone:
			reply.Done = s.Attrs
			c.lastUsedAt = time.Now()
			if trap != nil {
				return nil, trap
			}
			return reply, nil
		}
	}
}

// alive reports whether an idle connection is still open. Any unread data on
// an idle connection means the stream is out of sync, so that counts as dead.
func (c *Client) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.r.Buffered() > 0 {
		return false
	}
	c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.r.Peek(1)
	c.conn.SetReadDeadline(time.Time{})

	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Address returns the router endpoint this client is connected to.
func (c *Client) Address() string {
	return c.address
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
