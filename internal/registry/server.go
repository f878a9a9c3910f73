package registry

import (
	"context"
	"fmt"

	"github.com/schedulezero/schedulezero/internal/transport"
)

// Methods builds the transport.MethodFunc set the registration endpoint
// serves. It is handed straight to transport.Listen so registration rides
// the same brokerless request/reply primitive the dispatcher uses to call
// handler methods, rather than a second wire format.
func (r *Registry) Methods() map[string]transport.MethodFunc {
	return map[string]transport.MethodFunc{
		"register":   r.handleRegister,
		"heartbeat":  r.handleHeartbeat,
		"unregister": r.handleUnregister,
	}
}

func (r *Registry) handleRegister(params map[string]any) (any, error) {
	handlerID, _ := params["handler_id"].(string)
	address, _ := params["address"].(string)
	force, _ := params["force"].(bool)
	if handlerID == "" || address == "" {
		return nil, fmt.Errorf("register: handler_id and address are required")
	}

	rawMethods, _ := params["methods"].([]any)
	methods := make([]string, 0, len(rawMethods))
	for _, m := range rawMethods {
		if s, ok := m.(string); ok {
			methods = append(methods, s)
		}
	}

	result, err := r.Register(context.Background(), handlerID, address, methods, force)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accepted": result.Accepted, "replaced": result.Replaced}, nil
}

func (r *Registry) handleHeartbeat(params map[string]any) (any, error) {
	handlerID, _ := params["handler_id"].(string)
	if handlerID == "" {
		return nil, fmt.Errorf("heartbeat: handler_id is required")
	}
	if err := r.Heartbeat(context.Background(), handlerID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (r *Registry) handleUnregister(params map[string]any) (any, error) {
	handlerID, _ := params["handler_id"].(string)
	if handlerID == "" {
		return nil, fmt.Errorf("unregister: handler_id is required")
	}
	if err := r.Unregister(context.Background(), handlerID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
