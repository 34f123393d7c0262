// Package relayapi exposes the relay over HTTP/JSON.
//
// Mutating requests carry the caller's peer ID and, when signatures are required,
// a base64 Ed25519 signature over identity.SigningPayload for the operation. Signed
// requests also carry a nonce and an expiry; each nonce is accepted once per caller.
package relayapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"HubRelay/internal/core/capability"
	"HubRelay/internal/core/identity"
	"HubRelay/internal/core/network"
	"HubRelay/internal/notify"
	"HubRelay/internal/registry"
	"HubRelay/internal/relay"
)

var log = logging.Logger("relayapi")

// Operation names, as signed by callers.
const (
	OpCreateHub    = "create_hub"
	OpCloseHub     = "close_hub"
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpPublish      = "publish"
	OpIssueToken   = "issue_token"
	OpInitTopics   = "init_topics"
	OpDeinitTopics = "deinit_topics"
	OpCreateTopic  = "create_topic"
	OpRemoveTopic  = "remove_topic"
)

// Request is the JSON body of every mutating call. Owner defaults to Caller.
type Request struct {
	Caller     string `json:"caller"`
	Signature  string `json:"signature,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Message    string `json:"message,omitempty"`
	Token      string `json:"token,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Expires    int64  `json:"expires,omitempty"`
}

// Fields returns the signed fields of req for op, in signing order. The nonce and
// expiry always come last.
func (req Request) Fields(op string) []string {
	var fields []string
	switch op {
	case OpCloseHub, OpIssueToken, OpDeinitTopics:
		fields = []string{req.Owner}
	case OpSubscribe, OpCreateTopic, OpRemoveTopic:
		fields = []string{req.Owner, req.Topic}
	case OpUnsubscribe:
		fields = []string{req.Owner, req.Subscriber, req.Topic}
	case OpPublish:
		fields = []string{req.Owner, req.Topic, req.Message, req.Token}
	}
	return append(fields, req.Nonce, strconv.FormatInt(req.Expires, 10))
}

// Sign fills in Caller and Signature for op using kp. A missing nonce or expiry is
// generated, the expiry RequestTTL from now.
func (req *Request) Sign(kp *identity.Keypair, op string) error {
	req.Caller = kp.ID.String()
	if req.Owner == "" {
		req.Owner = req.Caller
	}
	if req.Nonce == "" {
		req.Nonce = uuid.NewString()
	}
	if req.Expires == 0 {
		req.Expires = time.Now().Add(RequestTTL).Unix()
	}
	sig, err := kp.SignRequest(op, req.Fields(op)...)
	if err != nil {
		return err
	}
	req.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

type Server struct {
	relay             *relay.Service
	inbox             network.PubSub
	requireSignatures bool
	replay            *replayGuard
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	now            func() time.Time
	replayCapacity int
}

// WithClock replaces time.Now for request expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// WithReplayCapacity bounds the number of nonces remembered at once.
func WithReplayCapacity(n int) Option {
	return func(o *serverOptions) { o.replayCapacity = n }
}

// NewServer builds the API. inbox may be nil, which disables inbox streams.
func NewServer(svc *relay.Service, inbox network.PubSub, requireSignatures bool, opts ...Option) *Server {
	o := serverOptions{now: time.Now, replayCapacity: defaultReplayCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		relay:             svc,
		inbox:             inbox,
		requireSignatures: requireSignatures,
		replay:            newReplayGuard(o.replayCapacity, o.now),
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/hub/", s.handleHub)
	mux.HandleFunc("/api/topics/", s.handleTopics)
	mux.HandleFunc("/api/inbox/", s.handleInbox)
}

func (s *Server) handleHub(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/hub/"), "/")
	if r.Method == http.MethodGet {
		owner, err := identity.Parse(action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hub, err := s.relay.Hub(r.Context(), owner)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hub": newHubView(hub)})
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var op string
	switch action {
	case "create":
		op = OpCreateHub
	case "close":
		op = OpCloseHub
	case "subscribe":
		op = OpSubscribe
	case "unsubscribe":
		op = OpUnsubscribe
	case "publish":
		op = OpPublish
	case "token":
		op = OpIssueToken
	default:
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	req, caller, owner, ok := s.decode(w, r, op)
	if !ok {
		return
	}
	ctx := r.Context()

	switch op {
	case OpCreateHub:
		hub, err := s.relay.CreateHub(ctx, caller)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hub": newHubView(hub)})
	case OpCloseHub:
		if err := s.relay.CloseHub(ctx, caller, owner); err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case OpSubscribe:
		if err := s.relay.Subscribe(ctx, caller, owner, req.Topic); err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case OpUnsubscribe:
		subscriber := caller
		if req.Subscriber != "" {
			id, err := identity.Parse(req.Subscriber)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			subscriber = id
		}
		if err := s.relay.Unsubscribe(ctx, caller, subscriber, owner, req.Topic); err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case OpPublish:
		token, err := capability.ParseToken(req.Token)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		res, err := s.relay.Publish(ctx, relay.PublishRequest{
			Publisher: caller,
			Hub:       owner,
			Topic:     req.Topic,
			Message:   req.Message,
			Token:     token,
		})
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hub": res.Hub, "recipients": res.Recipients})
	case OpIssueToken:
		token, err := s.relay.IssueToken(ctx, caller, owner)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token.String()})
	}
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/topics/"), "/")
	if r.Method == http.MethodGet {
		owner, err := identity.Parse(action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		set, err := s.relay.Topics(r.Context(), owner)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topics": newTopicSetView(set)})
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var op string
	switch action {
	case "init":
		op = OpInitTopics
	case "deinit":
		op = OpDeinitTopics
	case "create":
		op = OpCreateTopic
	case "remove":
		op = OpRemoveTopic
	default:
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	req, caller, owner, ok := s.decode(w, r, op)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		set *registry.TopicSet
		err error
	)
	switch op {
	case OpInitTopics:
		set, err = s.relay.InitialiseTopics(ctx, caller)
	case OpDeinitTopics:
		err = s.relay.DeinitialiseTopics(ctx, caller, owner)
	case OpCreateTopic:
		set, err = s.relay.CreateTopic(ctx, caller, owner, req.Topic)
	case OpRemoveTopic:
		set, err = s.relay.RemoveTopic(ctx, caller, owner, req.Topic)
	}
	if err != nil {
		writeRelayError(w, err)
		return
	}
	if set == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": newTopicSetView(set)})
}

// handleInbox streams notifications for /api/inbox/{subscriber}/stream as SSE.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/inbox/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "stream" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox streams unavailable")
		return
	}
	subscriber, err := identity.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel, err := s.inbox.Subscribe(notify.InboxTopic(subscriber))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: publication\ndata: " + string(msg.Payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// decode parses the request body, authenticates the caller and resolves the owner.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string) (Request, peer.ID, peer.ID, bool) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return req, "", "", false
	}
	caller, err := identity.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return req, "", "", false
	}
	if req.Owner == "" {
		req.Owner = req.Caller
	}
	owner, err := identity.Parse(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return req, "", "", false
	}
	if s.requireSignatures {
		if err := verify(caller, req, op); err != nil {
			log.Debugw("rejected unsigned request", "op", op, "caller", caller, "error", err)
			writeError(w, http.StatusForbidden, registry.ErrUnauthorized.Error())
			return req, "", "", false
		}
		if err := s.replay.admit(caller, req.Nonce, req.Expires); err != nil {
			log.Debugw("rejected stale request", "op", op, "caller", caller, "error", err)
			status := http.StatusForbidden
			if errors.Is(err, errReplayFull) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err.Error())
			return req, "", "", false
		}
	}
	return req, caller, owner, true
}

func verify(caller peer.ID, req Request, op string) error {
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return identity.ErrInvalidSignature
	}
	return identity.Verify(caller, identity.SigningPayload(op, req.Fields(op)...), sig)
}

func statusFor(err error) int {
	switch registry.KindOf(err) {
	case registry.KindUnauthorized:
		return http.StatusForbidden
	case registry.KindNotFound:
		return http.StatusNotFound
	case registry.KindAlreadyExists, registry.KindLimitReached:
		return http.StatusConflict
	case registry.KindTooLong, registry.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeRelayError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorw("relay operation failed", "error", err)
	}
	var relayErr *registry.Error
	kind := string(registry.KindInternal)
	if errors.As(err, &relayErr) {
		kind = string(relayErr.Kind)
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
