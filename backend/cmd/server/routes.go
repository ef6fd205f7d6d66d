package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-connections/backend/internal/connections"
	"social-connections/backend/internal/relay"
	apperrors "social-connections/backend/pkg/errors"
)

// addressesRequest is the body of the follow endpoints. The signature covers
// the ABI calldata the server packs from targets, as for a direct signed call.
type addressesRequest struct {
	From      string        `json:"from" binding:"required"`
	Targets   []string      `json:"targets"`
	Nonce     uint64        `json:"nonce"`
	Gas       uint64        `json:"gas"`
	Signature hexutil.Bytes `json:"signature"`
}

func newRouter(log *zap.Logger, contract *connections.Contract, fwd *relay.Forwarder) *gin.Engine {
	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"trusted_forwarder": contract.Resolver().TrustedForwarder().Hex(),
		})
	})

	api := router.Group("/api")
	{
		api.GET("/users/:address", func(c *gin.Context) {
			addr, ok := parseAddress(c, c.Param("address"))
			if !ok {
				return
			}

			user, err := contract.GetUser(c.Request.Context(), addr)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, user)
		})

		api.POST("/follow", func(c *gin.Context) {
			req, ok := bindAddresses(c, contract, connections.MethodFollow)
			if !ok {
				return
			}
			receipt, err := fwd.Direct(c.Request.Context(), req)
			respond(c, log, receipt, err)
		})

		api.POST("/unfollow", func(c *gin.Context) {
			req, ok := bindAddresses(c, contract, connections.MethodUnfollow)
			if !ok {
				return
			}
			receipt, err := fwd.Direct(c.Request.Context(), req)
			respond(c, log, receipt, err)
		})

		api.POST("/unfollow-all", func(c *gin.Context) {
			req, ok := bindAddresses(c, contract, connections.MethodUnfollowAll)
			if !ok {
				return
			}
			receipt, err := fwd.Direct(c.Request.Context(), req)
			respond(c, log, receipt, err)
		})

		// Signed raw calldata, executed with the signer as sender
		api.POST("/call", func(c *gin.Context) {
			var req relay.ForwardRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": apperrors.ErrorTypeTransport})
				return
			}
			receipt, err := fwd.Direct(c.Request.Context(), req)
			respond(c, log, receipt, err)
		})

		api.POST("/relay", func(c *gin.Context) {
			var req relay.ForwardRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": apperrors.ErrorTypeTransport})
				return
			}
			receipt, err := fwd.Submit(c.Request.Context(), req)
			respond(c, log, receipt, err)
		})

		api.GET("/relay/nonce/:address", func(c *gin.Context) {
			addr, ok := parseAddress(c, c.Param("address"))
			if !ok {
				return
			}
			c.JSON(http.StatusOK, gin.H{"address": addr, "nonce": fwd.Nonce(addr)})
		})
	}

	return router
}

// bindAddresses turns a follow endpoint body into a signed call of method
func bindAddresses(c *gin.Context, contract *connections.Contract, method string) (relay.ForwardRequest, bool) {
	var req addressesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": apperrors.ErrorTypeTransport})
		return relay.ForwardRequest{}, false
	}
	from, ok := parseAddress(c, req.From)
	if !ok {
		return relay.ForwardRequest{}, false
	}

	var args []interface{}
	if method != connections.MethodUnfollowAll {
		targets := make([]common.Address, 0, len(req.Targets))
		for _, raw := range req.Targets {
			target, ok := parseAddress(c, raw)
			if !ok {
				return relay.ForwardRequest{}, false
			}
			targets = append(targets, target)
		}
		args = append(args, targets)
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": apperrors.TypeOf(err)})
		return relay.ForwardRequest{}, false
	}

	return relay.ForwardRequest{
		From:      from,
		Nonce:     req.Nonce,
		Data:      data,
		Gas:       req.Gas,
		Signature: req.Signature,
	}, true
}

func parseAddress(c *gin.Context, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address: " + raw, "type": apperrors.ErrorTypeTransport})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func respond(c *gin.Context, log *zap.Logger, receipt *connections.Receipt, err error) {
	if err != nil {
		respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error(), "type": apperrors.TypeOf(err)})
}

func statusFor(err error) int {
	var (
		selfErr     *apperrors.ErrSelfFollow
		alreadyErr  *apperrors.ErrAlreadyFollowing
		notErr      *apperrors.ErrNotFollowing
		resourceErr *apperrors.ErrResourceExhausted
	)
	switch {
	case errors.As(err, &alreadyErr), errors.As(err, &notErr):
		return http.StatusConflict
	case errors.As(err, &resourceErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &selfErr),
		apperrors.IsErrorType(err, apperrors.ErrorTypeMetaTx),
		apperrors.IsErrorType(err, apperrors.ErrorTypeTransport):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const requestIDKey = "request_id"

// requestID tags every request with an id, reusing the caller's X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}
