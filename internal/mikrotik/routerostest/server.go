// Package routerostest provides an in-process RouterOS API server for tests.
package routerostest

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hotspotbill/backend/internal/mikrotik"
)

// Tables the server keeps; other paths answer with a trap.
var tables = []string{
	"/ip/hotspot/user",
	"/ip/hotspot/user/profile",
	"/ip/hotspot/active",
	"/ppp/secret",
	"/ppp/profile",
	"/ppp/active",
}

// Server speaks the RouterOS API word protocol on a loopback listener.
type Server struct {
	Username  string
	Password  string
	Identity  string
	Version   string
	Challenge bool // answer /login with =ret= like RouterOS before 6.43

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	rows     map[string][]map[string]string
	nextID   int
	accepted int
	logins   int
	commands []string
	failures map[string]string
	drops    map[string]int
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewServer starts a server accepting admin/secret.
func NewServer() *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("routerostest: listen: %v", err))
	}
	s := &Server{
		Username: "admin",
		Password: "secret",
		Identity: "MikroTik",
		Version:  "7.14.3 (stable)",
		ln:       ln,
		rows:     make(map[string][]map[string]string),
		failures: make(map[string]string),
		drops:    make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Config returns a RouterConfig with the server's credentials.
func (s *Server) Config() mikrotik.RouterConfig {
	return mikrotik.RouterConfig{
		ID:       1,
		Name:     "test-router",
		Address:  s.Addr(),
		Username: s.Username,
		Password: s.Password,
	}
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.ln.Close()
	s.wg.Wait()
}

// Accepted returns how many TCP connections were accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Logins returns how many logins succeeded.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Commands returns every command word received after login.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Rows returns a copy of a table.
func (s *Server) Rows(path string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]string, 0, len(s.rows[path]))
	for _, r := range s.rows[path] {
		out = append(out, copyRow(r))
	}
	return out
}

// Find returns the row of path whose name (or user for hotspot active) matches.
func (s *Server) Find(path, name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[path] {
		if r["name"] == name || r["user"] == name {
			return copyRow(r)
		}
	}
	return nil
}

// Seed inserts a row and returns its .id.
func (s *Server) Seed(path string, row map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(path, copyRow(row))
}

// Fail makes every later command equal to cmd answer with a trap.
func (s *Server) Fail(cmd, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.failures, cmd)
		return
	}
	s.failures[cmd] = message
}

// Drop makes the next n commands equal to cmd close the connection unanswered.
func (s *Server) Drop(cmd string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[cmd] = n
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.accepted++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	loggedIn := false
	challenge := ""

	for {
		words, err := mikrotik.ReadSentence(r)
		if err != nil {
			return
		}
		if len(words) == 0 {
			continue
		}
		cmd := words[0]
		args, queries := splitArgs(words[1:])

		if cmd == "/login" {
			reply, ok, ch := s.login(args, challenge)
			challenge = ch
			if ok {
				loggedIn = true
			}
			if err := writeAll(conn, reply); err != nil {
				return
			}
			continue
		}
		if !loggedIn {
			writeAll(conn, [][]string{{"!trap", "=message=not logged in"}, {"!done"}})
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		if n := s.drops[cmd]; n > 0 {
			s.drops[cmd] = n - 1
			s.mu.Unlock()
			return
		}
		msg, failing := s.failures[cmd]
		s.mu.Unlock()

		var reply [][]string
		if failing {
			reply = trap(msg)
		} else {
			reply = s.dispatch(cmd, args, queries)
		}
		if err := writeAll(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) login(args map[string]string, challenge string) ([][]string, bool, string) {
	if s.Challenge {
		resp, ok := args["response"]
		if !ok {
			ch := "0123456789abcdef0123456789abcdef"
			return [][]string{{"!done", "=ret=" + ch}}, false, ch
		}
		raw, _ := hex.DecodeString(challenge)
		h := md5.New()
		h.Write([]byte{0})
		h.Write([]byte(s.Password))
		h.Write(raw)
		want := "00" + hex.EncodeToString(h.Sum(nil))
		if args["name"] != s.Username || resp != want {
			return trap("invalid user name or password (6)"), false, challenge
		}
	} else if args["name"] != s.Username || args["password"] != s.Password {
		return trap("invalid user name or password (6)"), false, challenge
	}

	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
	return [][]string{{"!done"}}, true, challenge
}

func (s *Server) dispatch(cmd string, args, queries map[string]string) [][]string {
	switch cmd {
	case "/system/identity/print":
		return [][]string{{"!re", "=name=" + s.Identity}, {"!done"}}
	case "/system/resource/print":
		return [][]string{{
			"!re",
			"=uptime=1w2d3h",
			"=version=" + s.Version,
			"=cpu-load=7",
			"=free-memory=104857600",
			"=total-memory=268435456",
			"=board-name=hEX",
			"=architecture-name=arm",
		}, {"!done"}}
	}

	i := strings.LastIndex(cmd, "/")
	path, verb := cmd[:i], cmd[i+1:]
	if !knownTable(path) {
		return trap("no such command prefix")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch verb {
	case "print":
		var out [][]string
		for _, r := range s.rows[path] {
			if matches(r, queries) {
				out = append(out, rowWords(r))
			}
		}
		return append(out, []string{"!done"})

	case "add":
		if name := args["name"]; name != "" && !strings.HasSuffix(path, "/active") {
			for _, r := range s.rows[path] {
				if r["name"] == name {
					return trap("failure: already have such name")
				}
			}
		}
		row := make(map[string]string, len(args))
		for k, v := range args {
			row[k] = normalize(k, v)
		}
		if _, ok := row["disabled"]; !ok {
			row["disabled"] = "false"
		}
		id := s.insert(path, row)
		return [][]string{{"!done", "=ret=" + id}}

	case "set", "enable", "disable", "remove":
		ids := strings.Split(args[".id"], ",")
		for _, id := range ids {
			if s.index(path, id) < 0 {
				return trap("no such item")
			}
		}
		for _, id := range ids {
			idx := s.index(path, id)
			switch verb {
			case "set":
				for k, v := range args {
					if k != ".id" {
						s.rows[path][idx][k] = normalize(k, v)
					}
				}
			case "enable":
				s.rows[path][idx]["disabled"] = "false"
			case "disable":
				s.rows[path][idx]["disabled"] = "true"
			case "remove":
				s.rows[path] = append(s.rows[path][:idx], s.rows[path][idx+1:]...)
			}
		}
		return [][]string{{"!done"}}
	}
	return trap("no such command")
}

// insert appends row under a fresh id; callers hold s.mu
func (s *Server) insert(path string, row map[string]string) string {
	s.nextID++
	id := fmt.Sprintf("*%X", s.nextID)
	row[".id"] = id
	s.rows[path] = append(s.rows[path], row)
	return id
}

// index finds a row by id; callers hold s.mu
func (s *Server) index(path, id string) int {
	for i, r := range s.rows[path] {
		if r[".id"] == id {
			return i
		}
	}
	return -1
}

func knownTable(path string) bool {
	for _, t := range tables {
		if t == path {
			return true
		}
	}
	return false
}

func splitArgs(words []string) (args, queries map[string]string) {
	args = make(map[string]string)
	queries = make(map[string]string)
	for _, w := range words {
		switch {
		case strings.HasPrefix(w, "="):
			parts := strings.SplitN(w[1:], "=", 2)
			if len(parts) == 2 {
				args[parts[0]] = parts[1]
			}
		case strings.HasPrefix(w, "?"):
			parts := strings.SplitN(w[1:], "=", 2)
			if len(parts) == 2 {
				queries[parts[0]] = parts[1]
			}
		}
	}
	return args, queries
}

func matches(row, queries map[string]string) bool {
	for k, v := range queries {
		if row[k] != v {
			return false
		}
	}
	return true
}

func normalize(key, value string) string {
	if key == "disabled" || key == "only-one" {
		switch value {
		case "yes":
			return "true"
		case "no":
			return "false"
		}
	}
	return value
}

func rowWords(r map[string]string) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	words := []string{"!re"}
	for _, k := range keys {
		words = append(words, "="+k+"="+r[k])
	}
	return words
}

func trap(message string) [][]string {
	return [][]string{{"!trap", "=message=" + message}, {"!done"}}
}

func writeAll(conn net.Conn, sentences [][]string) error {
	for _, sentence := range sentences {
		if err := mikrotik.WriteSentence(conn, sentence...); err != nil {
			return err
		}
	}
	return nil
}

func copyRow(r map[string]string) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
