//go:build integration

package main_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/auth"
	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/events"
	"github.com/couponmesh/registry-node/internal/metrics"
	"github.com/couponmesh/registry-node/internal/repository"
)

const (
	eventsTopic  = "coupon.events"
	ownHotkey    = "5LocalValidatorHotkey"
	defaultSlots = 100
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// registryStack holds the wired-up registry node components backed by
// the real database.
type registryStack struct {
	Coupons         *repository.CouponRepositoryImpl
	Ownerships      *repository.OwnershipRepositoryImpl
	Sites           *repository.SiteRepositoryImpl
	Nodes           *repository.NodeRepositoryImpl
	State           *repository.StateRepositoryImpl
	Cursors         *repository.CursorRepositoryImpl
	Tx              *repository.GormTransactor
	SiteService     *application.SiteService
	CouponService   *application.CouponService
	CleanupProducer func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers and
// returns a connected GORM DB with the schema migrated.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	infra := setupPostgres(t)

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, kafkaBrokers, eventsTopic)

	pgCleanup := infra.Cleanup
	infra.KafkaBrokers = kafkaBrokers
	infra.Cleanup = func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		pgCleanup()
	}
	return infra
}

// setupPostgres starts only the PostgreSQL container, for tests that
// never consume events.
func setupPostgres(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_registry",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=test_registry sslmode=disable", pgHost, pgPort.Port())

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return false
		}
		sqlDB, err := db.DB()
		if err != nil {
			return false
		}
		return sqlDB.Ping() == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, db.AutoMigrate(
		&repository.CouponModel{},
		&repository.ActionLogModel{},
		&repository.OwnershipModel{},
		&repository.SiteModel{},
		&repository.CategoryModel{},
		&repository.NodeModel{},
		&repository.SyncCursorModel{},
		&repository.DynamicConfigModel{},
	))

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:      db,
		Cleanup: cleanup,
	}
}

// setupRegistryStack wires the real repositories and services against
// the test database and broker.
func setupRegistryStack(t *testing.T, db *gorm.DB, brokers []string) *registryStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	coupons := repository.NewCouponRepository(db)
	ownerships := repository.NewOwnershipRepository(db)
	sites := repository.NewSiteRepository(db)
	categories := repository.NewCategoryRepository(db)
	nodes := repository.NewNodeRepository(db)
	state := repository.NewStateRepository(db)
	cursors := repository.NewCursorRepository(db)
	tx := repository.NewGormTransactor(db)

	var publisher application.EventPublisher = noopPublisher{}
	cleanupProducer := func() {}
	if len(brokers) > 0 {
		producer := events.NewProducer(brokers, eventsTopic, logger)
		publisher = producer
		cleanupProducer = func() { _ = producer.Close() }
	}

	siteSvc := application.NewSiteService(sites, coupons, tx, defaultSlots, logger)

	cfg := config.CouponConfig{
		SubmitWindow:             20 * time.Minute,
		ResubmitCooldown:         24 * time.Hour,
		RecheckCooldown:          24 * time.Hour,
		MaxCouponsPerMinerOnSite: 10,
		DefaultTotalSlots:        defaultSlots,
	}
	couponSvc := application.NewCouponService(
		coupons, ownerships, sites, categories, nodes, state,
		siteSvc, tx, auth.NewAuthenticator(), publisher, metrics.New(),
		cfg, false, logger,
	)

	return &registryStack{
		Coupons:         coupons,
		Ownerships:      ownerships,
		Sites:           sites,
		Nodes:           nodes,
		State:           state,
		Cursors:         cursors,
		Tx:              tx,
		SiteService:     siteSvc,
		CouponService:   couponSvc,
		CleanupProducer: cleanupProducer,
	}
}

// noopPublisher drops events for tests that never consume them.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, any) {}

// newIdentity generates a fresh ed25519 miner identity with its SS58
// address and signing keypair.
func newIdentity(t *testing.T) (string, *auth.Keypair) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address, err := auth.EncodeSS58(pub, 42)
	require.NoError(t, err)
	kp, err := auth.NewKeypair(address, hex.EncodeToString(priv.Seed()))
	require.NoError(t, err)
	return address, kp
}

// registerMiner mirrors a miner into the metagraph so admission
// control accepts its submissions.
func registerMiner(t *testing.T, stack *registryStack, hotkey string) {
	t.Helper()
	require.NoError(t, stack.Nodes.Upsert(context.Background(), metagraph.Node{
		Hotkey:    hotkey,
		Coldkey:   "5SomeColdkey",
		Stake:     10,
		UpdatedAt: time.Now().UTC(),
	}))
}

// seedSite inserts an active site with the given slot capacity.
func seedSite(t *testing.T, stack *registryStack, id int64, slots int) {
	t.Helper()
	require.NoError(t, stack.Sites.Save(context.Background(), &site.Site{
		ID:             id,
		BaseURL:        fmt.Sprintf("site%d.example.com", id),
		Status:         site.StatusActive,
		TotalSlots:     slots,
		AvailableSlots: slots,
	}))
}

// signAction signs the canonical action message for a request.
func signAction(t *testing.T, kp *auth.Keypair, req application.ActionRequest, action coupon.Action) string {
	t.Helper()
	sig, err := kp.SignAction(auth.ActionPayload{
		Hotkey:                 req.Hotkey,
		Coldkey:                req.Coldkey,
		UseColdkeyForSignature: req.UseColdkeyForSignature,
		SiteID:                 req.SiteID,
		Code:                   req.Code,
		SubmittedAt:            req.SubmittedAt,
		Action:                 action,
	})
	require.NoError(t, err)
	return sig
}

// submitRequest builds a submit payload timestamped just inside the
// acceptance window.
func submitRequest(hotkey string, siteID int64, code string) application.SubmitCouponRequest {
	return application.SubmitCouponRequest{
		ActionRequest: application.ActionRequest{
			Hotkey:      hotkey,
			SiteID:      siteID,
			Code:        code,
			SubmittedAt: time.Now().UTC().Add(-time.Minute).UnixMilli(),
		},
	}
}

// consumeOneEvent reads the events topic until it finds an event of
// the expected type.
func consumeOneEvent(t *testing.T, brokers []string, expectedType string, timeout time.Duration) events.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       eventsTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q", expectedType)
			}
			continue
		}
		ce, err := events.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
