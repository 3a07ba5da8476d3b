package domain

// CallbackHeader is the mutable view over an inbound message's headers
// passed by reference into a subscriber invocation. The subscriber can add
// response headers, rewrite the compensation target, or suppress the
// callback for this invocation. The Callback Router reads the final state
// back after the handler returns; nothing here persists on its own.
type CallbackHeader struct {
	inbound map[string]string

	response        map[string]string
	rewrittenTarget string
	rewritten       bool
	removed         bool
}

// NewCallbackHeader creates an accumulator over the given inbound headers.
func NewCallbackHeader(inbound map[string]string) *CallbackHeader {
	return &CallbackHeader{inbound: inbound}
}

// Get returns an inbound header value by key.
func (h *CallbackHeader) Get(key string) string {
	return h.inbound[key]
}

// MessageID returns the inbound message id.
func (h *CallbackHeader) MessageID() string {
	return h.inbound[HeaderMessageID]
}

// MessageName returns the inbound routing name.
func (h *CallbackHeader) MessageName() string {
	return h.inbound[HeaderMessageName]
}

// AddResponseHeader records a header to carry on the compensating message.
// Reserved keys are ignored; the router assigns fresh routing headers.
func (h *CallbackHeader) AddResponseHeader(key, value string) {
	if IsReservedHeader(key) {
		return
	}
	if h.response == nil {
		h.response = make(map[string]string)
	}
	h.response[key] = value
}

// RewriteCallback overrides the compensation target name for this
// invocation. It takes priority over the publisher's declared callback.
func (h *CallbackHeader) RewriteCallback(name string) {
	h.rewrittenTarget = name
	h.rewritten = true
}

// RemoveCallback suppresses the compensating message for this invocation,
// regardless of any declared or rewritten target.
func (h *CallbackHeader) RemoveCallback() {
	h.removed = true
}

// ResponseHeaders returns the headers accumulated via AddResponseHeader.
func (h *CallbackHeader) ResponseHeaders() map[string]string {
	return h.response
}

// ResolveTarget returns the compensation target for this invocation and
// whether a compensating message should be produced at all. Priority:
// RemoveCallback suppresses; a RewriteCallback name wins; otherwise the
// publisher's declared callback name applies.
func (h *CallbackHeader) ResolveTarget() (string, bool) {
	if h.removed {
		return "", false
	}
	if h.rewritten {
		if h.rewrittenTarget == "" {
			return "", false
		}
		return h.rewrittenTarget, true
	}
	if name := h.inbound[HeaderCallbackName]; name != "" {
		return name, true
	}
	return "", false
}
