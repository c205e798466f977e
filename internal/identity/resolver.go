package identity

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("identity")

// Resolver locates the record behind a token subject across both collections.
type Resolver struct {
	operators OperatorStore
	members   MemberStore
	logger    *zap.Logger
}

func NewResolver(operators OperatorStore, members MemberStore, logger *zap.Logger) *Resolver {
	return &Resolver{operators: operators, members: members, logger: logger}
}

// Lookup finds id in the operator collection first and falls back to the
// member collection. It applies no activation gate.
func (r *Resolver) Lookup(ctx context.Context, id string) (Identity, error) {
	ctx, span := tracer.Start(ctx, "identity.Resolver.Lookup")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Identity{}, ErrIdentityNotFound
	}

	op, err := r.operators.FindByID(ctx, oid)
	if err == nil {
		span.SetAttributes(attribute.String("identity.kind", KindOperator.String()))
		return OperatorIdentity(op), nil
	}
	if !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		return Identity{}, err
	}

	m, err := r.members.FindByID(ctx, oid)
	if err == nil {
		span.SetAttributes(attribute.String("identity.kind", KindMember.String()))
		return MemberIdentity(m), nil
	}
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	span.RecordError(err)
	return Identity{}, err
}

// Resolve looks up id, applies the activation gate and returns the
// normalized session identity. Disabled operators resolve as unknown.
func (r *Resolver) Resolve(ctx context.Context, id string) (Session, error) {
	ident, err := r.Lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if op, ok := ident.Operator(); ok && !op.IsActive {
		r.logger.Info("Disabled operator rejected", zap.String("identity_id", id))
		return Session{}, ErrIdentityNotFound
	}
	if err := Gate(ident); err != nil {
		r.logger.Info("Activation gate rejected identity",
			zap.String("identity_id", id),
			zap.Error(err))
		return Session{}, err
	}
	return Normalize(ident), nil
}

// Gate rejects member identities that are not both approved and activated.
// Operators always pass.
func Gate(i Identity) error {
	m, ok := i.Member()
	if !ok {
		return nil
	}
	if !m.Approved {
		return ErrPendingApproval
	}
	if !m.IsActivated {
		return ErrNotActivated
	}
	return nil
}
