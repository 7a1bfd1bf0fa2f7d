package mikrotik

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RouterClient provides RouterOS operations on one router through the pool
type RouterClient struct {
	pool *Pool
	cfg  RouterConfig
}

// NewRouterClient creates a pooled client for a router
func NewRouterClient(pool *Pool, cfg RouterConfig) *RouterClient {
	return &RouterClient{pool: pool, cfg: cfg}
}

// Config returns the router this client talks to
func (rc *RouterClient) Config() RouterConfig {
	return rc.cfg
}

// Exec borrows a connection, runs one command and returns the connection.
// Broken connections are discarded; a !trap keeps the connection.
func (rc *RouterClient) Exec(ctx context.Context, command string, args ...string) (*Reply, error) {
	if err := rc.pool.Wait(ctx, rc.cfg.Address); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", rc.cfg.Address, err)
	}

	conn, err := rc.pool.Get(ctx, rc.cfg)
	if err != nil {
		return nil, err
	}

	reply, err := conn.Exec(ctx, command, args...)
	if err != nil {
		if IsTrap(err) {
			rc.pool.Put(conn)
		} else {
			rc.pool.Discard(conn)
		}
		return nil, err
	}

	rc.pool.Put(conn)
	return reply, nil
}

// Run executes a command and returns the !re attributes
func (rc *RouterClient) Run(ctx context.Context, command string, args ...string) ([]map[string]string, error) {
	reply, err := rc.Exec(ctx, command, args...)
	if err != nil {
		return nil, err
	}
	return reply.Re, nil
}

// add runs an add command and returns the new item id
func (rc *RouterClient) add(ctx context.Context, path string, attrs ...string) (string, error) {
	reply, err := rc.Exec(ctx, path+"/add", attrs...)
	if err != nil {
		return "", err
	}
	return reply.Done["ret"], nil
}

// findID returns the .id of the item whose name matches, "" when absent
func (rc *RouterClient) findID(ctx context.Context, path, key, value string) (string, error) {
	rows, err := rc.Run(ctx, path+"/print", "=.proplist=.id", "?"+key+"="+value)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0][".id"], nil
}

// byName runs cmd against the item called name, *NotFoundError when absent
func (rc *RouterClient) byName(ctx context.Context, path, cmd, name string, attrs ...string) error {
	id, err := rc.findID(ctx, path, "name", name)
	if err != nil {
		return err
	}
	if id == "" {
		return &NotFoundError{Path: path, Name: name}
	}
	_, err = rc.Exec(ctx, path+"/"+cmd, append([]string{"=.id=" + id}, attrs...)...)
	return err
}

// removeIDs removes items by id in chunks
func (rc *RouterClient) removeIDs(ctx context.Context, path string, ids []string) error {
	const chunk = 100
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		if _, err := rc.Exec(ctx, path+"/remove", "=.id="+strings.Join(ids[start:end], ",")); err != nil {
			return err
		}
	}
	return nil
}

// NotFoundError means the named item does not exist on the router
type NotFoundError struct {
	Path string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found on router", e.Path, e.Name)
}

// Attr formats one =key=value word, skipping empty values
func Attr(key, value string) []string {
	if value == "" {
		return nil
	}
	return []string{"=" + key + "=" + value}
}

// field is Attr for add. For set it always sends the word so an empty value
// clears the field on the router.
func field(set bool, key, value string) []string {
	if set {
		return []string{"=" + key + "=" + value}
	}
	return Attr(key, value)
}

func attrs(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseBool(s string) bool {
	return s == "true" || s == "yes"
}

func parseInt(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseInt64(s string) int64 {
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}
