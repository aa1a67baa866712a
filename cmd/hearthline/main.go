// Command hearthline is the server entrypoint: it loads configuration,
// opens the shared Postgres and Redis connections, wires every
// component together, and serves HTTP+websocket on one gin.Engine.
// Grounded on the teacher's chatgateway.go main (gin.New plus
// gin.Recovery, one goroutine per long-running subsystem, r.Run(addr)
// as the final blocking call), generalized from a single gateway
// process to this server's full component graph.
package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthline/core/internal/audit"
	"github.com/hearthline/core/internal/auth"
	"github.com/hearthline/core/internal/call"
	"github.com/hearthline/core/internal/config"
	"github.com/hearthline/core/internal/e2ee"
	"github.com/hearthline/core/internal/filter"
	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/httpapi"
	"github.com/hearthline/core/internal/ids"
	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/moderation"
	"github.com/hearthline/core/internal/perm"
	"github.com/hearthline/core/internal/pubsub"
	"github.com/hearthline/core/internal/ratelimit"
	"github.com/hearthline/core/internal/store"
	"github.com/hearthline/core/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.SetLevel(cfg.Debug)

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logging.Errorf("store: %v", err)
		log.Fatal(err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.Errorf("redis: %v", err)
		log.Fatal(err)
	}

	snowflake, err := ids.NewSnowflake(cfg.SnowflakeNodeID)
	if err != nil {
		logging.Errorf("snowflake: %v", err)
		log.Fatal(err)
	}

	bus := pubsub.New(rdb)
	limiter := ratelimit.New(rdb)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.ElevatedSessionTTL)
	resolver := perm.NewResolver(db)
	filterCache := filter.NewCache(db)
	auditLogger := audit.New(db)
	moderationPipeline := moderation.New(filterCache, db, auditLogger)
	e2eeStore := e2ee.New(db)

	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	e2eeStore.StartReaper(reaperCtx, time.Hour)

	// internal/gateway owns the websocket fan-out every other component
	// publishes through (spec §5: one envelope shape, one sequence
	// source). voice and call are wired in after construction since they
	// each need a Publisher built from the same *gateway.Server they are
	// about to be attached to.
	connManager := gateway.NewManager(cfg.GatewayHeartbeatInterval, cfg.GatewaySendQueueSize)
	callStoreAdapter := &callParticipation{} // replaced once callManager exists, see below
	authorizer := gateway.NewAuthorizer(db, resolver, callStoreAdapter)
	bridge := gateway.NewBridge(bus, connManager)
	gw := gateway.NewServer(connManager, authorizer, bridge, bus, issuer, snowflake)

	voiceManager := voice.NewManager(db, resolver, gw, voice.ICEConfig{
		UDPPortMin: uint16(cfg.SFUPortMin),
		UDPPortMax: uint16(cfg.SFUPortMax),
	}, snowflake, cfg.VoiceStatsRateLimit)
	gw.SetVoiceHandler(voiceManager)

	callManager := call.NewManager(db, gw, cfg.VoiceRingTimeout)
	gw.SetCallHandler(callManager)
	callStoreAdapter.manager = callManager

	router := httpapi.New(httpapi.Deps{
		Store:                 db,
		Issuer:                issuer,
		Resolver:              resolver,
		Limiter:               limiter,
		Moderation:            moderationPipeline,
		Voice:                 voiceManager,
		Call:                  callManager,
		Gateway:               gw,
		AccessTokenTTL:        cfg.AccessTokenTTL,
		RefreshTokenTTL:       cfg.RefreshTokenTTL,
		ElevatedSessionTTL:    cfg.ElevatedSessionTTL,
		MaxMessageContentSize: cfg.MaxMessageContentSize,
	})

	logging.Infof("hearthline: listening on %s", cfg.HTTPAddr)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		logging.Errorf("http server: %v", err)
		log.Fatal(err)
	}
}

// callParticipation indirects gateway.NewAuthorizer's CallStore
// dependency through a pointer that is filled in once callManager
// exists, breaking what would otherwise be a construction-order cycle
// (the authorizer is built before the call manager, which itself needs
// the gateway's Publisher).
type callParticipation struct {
	manager *call.Manager
}

func (c *callParticipation) IsCallParticipant(channelID, userID string) bool {
	if c.manager == nil {
		return false
	}
	return c.manager.IsCallParticipant(channelID, userID)
}
