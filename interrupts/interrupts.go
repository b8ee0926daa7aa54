// Package interrupts decodes the opaque interrupt value delivered by the
// runtime when a run pauses into lookup-ready structures. The decoder is
// total: malformed or absent input yields empty maps, never an error, so
// consumers need not distinguish "no interrupt" from "unrecognized interrupt".
package interrupts

type (
	// ActionRequest is one named action awaiting a human decision.
	ActionRequest struct {
		// Name identifies the paused action (typically a tool name).
		Name string
		// Args carries the arguments the action would run with.
		Args map[string]any
	}

	// ReviewConfig describes which decisions are permitted for an action.
	ReviewConfig struct {
		// ActionName matches an ActionRequest.Name.
		ActionName string
		// AllowAccept permits approving the action unchanged.
		AllowAccept bool
		// AllowEdit permits approving the action with edited arguments.
		AllowEdit bool
		// AllowReject permits rejecting the action.
		AllowReject bool
		// Description is optional reviewer-facing context.
		Description string
	}

	// Resolution holds the decoded interrupt lookup maps. Both maps are always
	// non-nil.
	Resolution struct {
		// Requests maps action name to its request.
		Requests map[string]ActionRequest
		// Reviews maps action name to its review configuration.
		Reviews map[string]ReviewConfig
	}
)

// Resolve decodes the interrupt value into its lookup maps. The value may be
// the interrupt payload itself or a single-element slice wrapping it, as some
// runtimes deliver interrupts in list form. Anything unrecognized decodes to
// empty maps.
func Resolve(value any) Resolution {
	res := Resolution{
		Requests: make(map[string]ActionRequest),
		Reviews:  make(map[string]ReviewConfig),
	}
	obj := payloadObject(value)
	if obj == nil {
		return res
	}
	for _, item := range anySlice(obj["action_requests"]) {
		req, ok := decodeActionRequest(item)
		if !ok {
			continue
		}
		res.Requests[req.Name] = req
	}
	for _, item := range anySlice(obj["review_configs"]) {
		cfg, ok := decodeReviewConfig(item)
		if !ok {
			continue
		}
		res.Reviews[cfg.ActionName] = cfg
	}
	return res
}

// payloadObject unwraps the interrupt value to the map holding the named
// collections. Returns nil when the value has no recognizable shape.
func payloadObject(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		// Some runtimes nest the payload under "value".
		if inner, ok := v["value"]; ok {
			if obj := payloadObject(inner); obj != nil {
				return obj
			}
		}
		return v
	case []any:
		if len(v) == 0 {
			return nil
		}
		return payloadObject(v[0])
	default:
		return nil
	}
}

func decodeActionRequest(item any) (ActionRequest, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return ActionRequest{}, false
	}
	name := stringField(obj, "name")
	if name == "" {
		name = stringField(obj, "action")
	}
	if name == "" {
		return ActionRequest{}, false
	}
	args, _ := obj["args"].(map[string]any)
	return ActionRequest{Name: name, Args: args}, true
}

func decodeReviewConfig(item any) (ReviewConfig, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return ReviewConfig{}, false
	}
	name := stringField(obj, "action_name")
	if name == "" {
		name = stringField(obj, "action")
	}
	if name == "" {
		return ReviewConfig{}, false
	}
	return ReviewConfig{
		ActionName:  name,
		AllowAccept: boolField(obj, "allow_accept"),
		AllowEdit:   boolField(obj, "allow_edit"),
		AllowReject: boolField(obj, "allow_reject"),
		Description: stringField(obj, "description"),
	}, true
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func boolField(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}
