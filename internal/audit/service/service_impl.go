package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	"github.com/smallbiznis/partnerbilling/internal/audit/masking"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := s.resolveActor(ctx, entry.ActorType, entry.ActorID)

	payload := masking.MaskSensitive(entry.Metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if correlationID := obscontext.CorrelationIDFromContext(ctx); correlationID != "" {
		payload["correlation_id"] = correlationID
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		PartnerID:  entry.PartnerID,
		TenantID:   entry.TenantID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(entry.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}

	conn := tx
	if conn == nil {
		conn = s.db
	}
	if err := s.repo.Insert(ctx, conn, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditLog, error) {
	if req.PartnerID == nil && req.TenantID == nil {
		return nil, auditdomain.ErrInvalidFilter
	}
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, string) {
	resolvedType := strings.TrimSpace(string(actorType))
	resolvedID := strings.TrimSpace(actorID)
	if resolvedType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			resolvedType = ctxType
			if resolvedID == "" {
				resolvedID = ctxID
			}
		}
	}
	if resolvedType == "" {
		resolvedType = string(auditdomain.ActorTypeSystem)
	}
	return resolvedType, resolvedID
}
