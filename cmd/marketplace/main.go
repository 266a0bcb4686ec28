package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/chat"
	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/db"
	"creatorlink-marketplace/pkg/gateway"
	"creatorlink-marketplace/pkg/logger"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/pkg/redis"
	pkgtask "creatorlink-marketplace/pkg/task"
	"creatorlink-marketplace/services/balance"
	"creatorlink-marketplace/services/contract"
	"creatorlink-marketplace/services/ledger"
	"creatorlink-marketplace/services/milestone"
	"creatorlink-marketplace/services/offer"
	"creatorlink-marketplace/services/payment"
	"creatorlink-marketplace/services/webhook"
	"creatorlink-marketplace/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgtask.Client,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		notify.Module,
		gateway.Module,
		chat.Module,
		balance.Module,
		ledger.Module,
		payment.Module,
		contract.Module,
		milestone.Module,
		offer.Module,
		withdrawal.Module,
		webhook.Module,
		fx.Invoke(autoMigrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&offer.Offer{},
		&contract.Contract{},
		&contract.ContractEvent{},
		&milestone.Milestone{},
		&milestone.CreatorSanction{},
		&payment.JobPayment{},
		&balance.CreatorBalance{},
		&ledger.Transaction{},
		&withdrawal.Withdrawal{},
		&webhook.WebhookEvent{},
		&chat.SystemMessage{},
		&chat.RoomArchive{},
	)
}
