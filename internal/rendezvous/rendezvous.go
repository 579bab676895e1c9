// Package rendezvous obtains this process's distributed environment from a
// socket.io rendezvous service. The service is an external collaborator:
// a process joins under a job id and is assigned its ranks.
//
// Protocol:
//
//	client -> "join"   {"job": "<id>", "hostname": "<host>"}
//	server -> "assign" {"rank": 0, "world_size": 2, "local_rank": 0,
//	                    "local_world_size": 1, "node_rank": 0}
//	server -> "reject" {"reason": "..."}
package rendezvous

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/dist"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultTimeout bounds the whole join exchange when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrRejected is returned when the service refuses the join request.
var ErrRejected = errors.New("rendezvous rejected join")

// Options configures a join.
type Options struct {
	URL                string
	Namespace          string
	Job                string
	Hostname           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type joinResult struct {
	env dist.Env
	err error
}

// Join connects to the rendezvous service and waits for a rank assignment.
func Join(ctx context.Context, opts Options) (dist.Env, error) {
	logger := ctxlog.FromContext(ctx).With("rendezvous", opts.URL, "job", opts.Job)

	if opts.Job == "" {
		return dist.Env{}, fmt.Errorf("rendezvous requires a job id")
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return dist.Env{}, fmt.Errorf("failed to parse rendezvous URL: %w", err)
	}

	sockOpts := socket.DefaultOptions()
	sockOpts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sockOpts)
	io := manager.Socket(opts.Namespace, sockOpts)
	defer io.Disconnect()

	done := make(chan joinResult, 1)
	send := func(r joinResult) {
		select {
		case done <- r:
		default:
		}
	}

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to rendezvous, joining.", "sid", io.Id())
		io.Emit("join", map[string]any{"job": opts.Job, "hostname": opts.Hostname})
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		send(joinResult{err: fmt.Errorf("rendezvous connection failed: %v", firstArg(errs))})
	})
	io.Once(types.EventName("assign"), func(data ...any) {
		env, err := ParseAssignment(firstArg(data))
		send(joinResult{env: env, err: err})
	})
	io.Once(types.EventName("reject"), func(data ...any) {
		reason := "no reason given"
		if m, ok := firstArg(data).(map[string]any); ok {
			if r, ok := m["reason"].(string); ok {
				reason = r
			}
		}
		send(joinResult{err: fmt.Errorf("%w: %s", ErrRejected, reason)})
	})

	io.Connect()

	select {
	case res := <-done:
		if res.err != nil {
			return dist.Env{}, res.err
		}
		logger.Info("Rank assigned by rendezvous.", "rank", res.env.Rank, "world_size", res.env.WorldSize)
		return res.env, nil
	case <-ctx.Done():
		return dist.Env{}, fmt.Errorf("rendezvous cancelled: %w", ctx.Err())
	case <-time.After(timeout):
		return dist.Env{}, fmt.Errorf("timed out after %v waiting for rank assignment", timeout)
	}
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// ParseAssignment converts an "assign" payload into a validated Env.
// Numbers arrive as float64 after JSON decoding.
func ParseAssignment(payload any) (dist.Env, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return dist.Env{}, fmt.Errorf("assignment payload must be an object, got %T", payload)
	}

	var env dist.Env
	fields := []struct {
		key      string
		target   *int
		required bool
	}{
		{"rank", &env.Rank, true},
		{"world_size", &env.WorldSize, true},
		{"local_rank", &env.LocalRank, false},
		{"local_world_size", &env.LocalWorldSize, false},
		{"node_rank", &env.NodeRank, false},
	}
	for _, f := range fields {
		raw, present := m[f.key]
		if !present {
			if f.required {
				return dist.Env{}, fmt.Errorf("assignment is missing %q", f.key)
			}
			continue
		}
		v, err := asInt(raw)
		if err != nil {
			return dist.Env{}, fmt.Errorf("assignment field %q: %w", f.key, err)
		}
		*f.target = v
	}
	if _, ok := m["local_world_size"]; !ok {
		env.LocalWorldSize = env.WorldSize
		if _, ok := m["local_rank"]; !ok {
			env.LocalRank = env.Rank
		}
	}
	if err := env.Validate(); err != nil {
		return dist.Env{}, err
	}
	return env, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
