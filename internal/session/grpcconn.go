package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	methodInfo = "/enginectl.v1.Control/Info"
	methodQuit = "/enginectl.v1.Control/Quit"
)

// RpcConnector opens a gRPC channel to an engine server. The control
// surface rides a raw bytes codec carrying JSON so no message schema is
// compiled into the manager.
type RpcConnector struct {
	Target      string
	Creds       credentials.TransportCredentials
	PingTimeout time.Duration
}

func (c *RpcConnector) Connect(ctx context.Context) (Handle, error) {
	creds := c.Creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(c.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("session: open channel to %s: %w", c.Target, err)
	}
	h := &rpcHandle{conn: conn}

	pingCtx := ctx
	if c.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, c.PingTimeout)
		defer cancel()
	}
	if err := h.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransientConnect, err)
	}
	return h, nil
}

type rpcHandle struct {
	conn *grpc.ClientConn
}

func (h *rpcHandle) Ping(ctx context.Context) error {
	_, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err
}

func (h *rpcHandle) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := h.invokeJSON(ctx, methodInfo, nil, &info); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrTransientConnect, err)
	}
	return info, nil
}

func (h *rpcHandle) Quit(ctx context.Context) error {
	return h.invokeJSON(ctx, methodQuit, nil, nil)
}

func (h *rpcHandle) Close() error {
	return h.conn.Close()
}

func (h *rpcHandle) invokeJSON(ctx context.Context, method string, req any, resp any) error {
	payload := []byte("{}")
	if req != nil {
		var err error
		if payload, err = json.Marshal(req); err != nil {
			return err
		}
	}
	var out []byte
	if err := h.conn.Invoke(ctx, method, payload, &out, grpc.ForceCodec(rawCodec{})); err != nil {
		return err
	}
	if resp == nil || len(out) == 0 {
		return nil
	}
	return json.Unmarshal(out, resp)
}

// rawCodec passes request/response bytes through the channel untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("session: raw codec marshal: unexpected %T", v)
	}
	return b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("session: raw codec unmarshal: unexpected %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func (rawCodec) Name() string {
	return "enginectl-raw"
}
