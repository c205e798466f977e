package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/metrics"
)

const writeTimeout = 5 * time.Second

// RequestMeta is the forensic context captured from the triggering request.
type RequestMeta struct {
	SourceAddress string
	ClientAgent   string
}

// RequestMetaFrom prefers the first X-Forwarded-For entry, then the host part
// of RemoteAddr, then RemoteAddr as given.
func RequestMetaFrom(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		SourceAddress: sourceAddress(r),
		ClientAgent:   r.UserAgent(),
	}
}

func sourceAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ActorLookup resolves an actor id without the activation gate.
type ActorLookup interface {
	Lookup(ctx context.Context, id string) (identity.Identity, error)
}

// Recorder writes audit entries. Every failure is logged and swallowed.
type Recorder struct {
	store  Store
	actors ActorLookup
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store Store, actors ActorLookup, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, actors: actors, logger: logger, now: time.Now}
}

// Record appends one entry for action performed by actorID.
func (r *Recorder) Record(ctx context.Context, actorID, action string, details map[string]any, meta RequestMeta) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	action = strings.ToUpper(strings.TrimSpace(action))
	entry := &Entry{
		ActorID:       actorID,
		ActorEmail:    r.actorEmail(ctx, actorID),
		Action:        action,
		Category:      Classify(action),
		Details:       details,
		SourceAddress: meta.SourceAddress,
		ClientAgent:   meta.ClientAgent,
		CreatedAt:     r.now().UTC(),
	}

	if err := r.store.Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		r.logger.Error("Failed to write audit entry",
			zap.String("actor_id", actorID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (r *Recorder) actorEmail(ctx context.Context, actorID string) string {
	if actorID == "" {
		return UnknownActor
	}
	ident, err := r.actors.Lookup(ctx, actorID)
	if err != nil {
		r.logger.Warn("Audit actor not resolvable",
			zap.String("actor_id", actorID),
			zap.Error(err))
		return UnknownActor
	}
	return identity.Normalize(ident).Email
}

// Auditor is what privileged operations depend on to leave a trail.
type Auditor interface {
	Record(ctx context.Context, actorID, action string, details map[string]any, meta RequestMeta)
}

var _ Auditor = (*Recorder)(nil)
