// Package client speaks the daemon's control protocol over the unix socket
// and the fire-and-forget pipe.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/portty/portty/internal/model"
)

const defaultTimeout = 10 * time.Second

// RequestError is a daemon-side failure reported on the socket.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

type Client struct {
	socketPath string
	ctlPath    string
	timeout    time.Duration
}

func New(socketPath, ctlPath string) *Client {
	return &Client{socketPath: socketPath, ctlPath: ctlPath, timeout: defaultTimeout}
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.timeout = timeout
	return &clone
}

// Command sends one control line over the socket and returns the response
// lines before the terminal "ok". An "error:" response surfaces as a
// RequestError.
func (c *Client) Command(ctx context.Context, verb, sessionID string) ([]string, error) {
	line := verb
	if sessionID != "" {
		line += " " + sessionID
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	var records []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		resp := scanner.Text()
		if resp == "ok" {
			return records, nil
		}
		if msg, found := strings.CutPrefix(resp, "error: "); found {
			return nil, &RequestError{Message: msg}
		}
		records = append(records, resp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return nil, errors.New("connection closed before response")
}

// Notify writes one control line to the pipe without waiting for a result.
func (c *Client) Notify(verb, sessionID string) error {
	line := verb
	if sessionID != "" {
		line += " " + sessionID
	}
	f, err := os.OpenFile(c.ctlPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open ctl pipe: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write ctl pipe: %w", err)
	}
	return nil
}

// List fetches active session summaries.
func (c *Client) List(ctx context.Context) ([]model.SessionInfo, error) {
	records, err := c.Command(ctx, "list", "")
	if err != nil {
		return nil, err
	}
	infos := make([]model.SessionInfo, 0, len(records))
	for _, rec := range records {
		info, err := parseRecord(rec)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func parseRecord(rec string) (model.SessionInfo, error) {
	fields := strings.Split(rec, "\t")
	if len(fields) != 6 {
		return model.SessionInfo{}, fmt.Errorf("malformed session record: %q", rec)
	}
	created, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return model.SessionInfo{}, fmt.Errorf("malformed created timestamp: %q", fields[3])
	}
	return model.SessionInfo{
		ID:        fields[0],
		Portal:    fields[1],
		Operation: fields[2],
		Created:   time.Unix(created, 0),
		Dir:       fields[4],
		Title:     fields[5],
	}, nil
}
