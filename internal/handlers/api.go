package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/fflags"
	"github.com/greenhouse-io/greenhouse/internal/legacy"
	"github.com/greenhouse-io/greenhouse/internal/liveness"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/handlers")
}

type API struct {
	logger      *zap.SugaredLogger
	db          *gorm.DB
	fflags      *fflags.FFlags
	projects    *registry.ProjectStore
	devices     *registry.DeviceRegistry
	heartbeats  *liveness.HeartbeatProcessor
	coordinator *legacy.Coordinator
	now         func() time.Time
}

func NewAPI(
	parent context.Context,
	logger *zap.SugaredLogger,
	db *gorm.DB,
	fflags *fflags.FFlags,
	heartbeatTimeout time.Duration,
) (*API, error) {
	_, span := tracer.Start(parent, "NewAPI")
	defer span.End()

	transactionFunc, dialect, err := database.GetTransactionFunc(db)
	if err != nil {
		return nil, err
	}
	allocator := registry.NewAllocator()

	return &API{
		logger:      logger,
		db:          db,
		fflags:      fflags,
		projects:    registry.NewProjectStore(logger, db, transactionFunc, allocator),
		devices:     registry.NewDeviceRegistry(logger, db, transactionFunc),
		heartbeats:  liveness.NewHeartbeatProcessor(logger, db, transactionFunc, fflags, heartbeatTimeout),
		coordinator: legacy.NewCoordinator(logger, db, transactionFunc, dialect, allocator),
		now:         time.Now,
	}, nil
}

// Heartbeats exposes the processor so other ingress paths share it.
func (api *API) Heartbeats() *liveness.HeartbeatProcessor {
	return api.heartbeats
}

func (api *API) Logger(ctx context.Context) *zap.SugaredLogger {
	return util.WithTrace(ctx, api.logger)
}

func (api *API) SendInternalServerError(c *gin.Context, err error) {
	SendInternalServerError(c, api.logger, err)
}

func SendInternalServerError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	ctx := c.Request.Context()
	util.WithTrace(ctx, logger).Errorw("internal server error", "error", err)

	result := models.InternalServerError{
		BaseError: models.BaseError{
			Error: "internal server error",
		},
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		result.TraceId = sc.TraceID().String()
	}
	c.JSON(http.StatusInternalServerError, result)
}

// GetCurrentUserID returns the owner the request was authenticated as.
func (api *API) GetCurrentUserID(c *gin.Context) uuid.UUID {
	userId, found := c.Get(gin.AuthUserKey)
	if !found {
		api.SendInternalServerError(c, fmt.Errorf("no current user found"))
		panic("no current user found")
	}
	return userId.(uuid.UUID)
}

func (api *API) FlagCheck(c *gin.Context, name string) bool {
	enabled, err := api.fflags.GetFlag(name)
	if err != nil {
		api.SendInternalServerError(c, err)
		return false
	}
	if !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError(fmt.Sprintf("%s support is disabled", name)))
		return false
	}
	return enabled
}

// sendError writes the response for an error returned by the services, falling
// back to a 500 for anything it does not recognize.
func (api *API) sendError(c *gin.Context, err error, param string, resource string) {
	if apiErr := toApiResponseError(err, param, resource); apiErr != nil {
		c.JSON(apiErr.Status, apiErr.Body)
		return
	}
	api.SendInternalServerError(c, err)
}
