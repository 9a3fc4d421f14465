package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorConfig struct {
	Host     string
	Username string
	DbName   string
	Password string
	SslMode  string
}

type ConnectorFunc func() (*gorm.DB, error)

const inMemory string = "file::memory:"

// NewSQLiteConnector opens a sqlite database. An empty dsn gives a private
// in memory database for every call to the returned connector.
func NewSQLiteConnector(log zerolog.Logger, dsn string) ConnectorFunc {
	if dsn == "" {
		dsn = inMemory
	}

	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger:          logger.Default.LogMode(logger.Silent),
			CreateBatchSize: 1000,
		})
		if err != nil {
			return nil, err
		}

		sqldb, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(1)

		if err = db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, err
		}

		log.Debug().Str("dsn", dsn).Msg("opened sqlite database")

		return db, nil
	}
}

const connectAttempts int = 5

func NewPostgreSQLConnector(log zerolog.Logger, cfg ConnectorConfig) ConnectorFunc {
	dbURI := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", cfg.Host, cfg.Username, cfg.DbName, cfg.SslMode, cfg.Password)

	return func() (*gorm.DB, error) {
		sublogger := log.With().Str("host", cfg.Host).Str("database", cfg.DbName).Logger()

		for attempt := 1; ; attempt++ {
			sublogger.Info().Msg("connecting to database host")

			db, err := gorm.Open(postgres.Open(dbURI), &gorm.Config{
				Logger: logger.New(
					&sublogger,
					logger.Config{
						SlowThreshold:             time.Second,
						LogLevel:                  logger.Warn,
						IgnoreRecordNotFoundError: true,
						Colorful:                  false,
					},
				),
				CreateBatchSize: 1000,
			})
			if err == nil {
				return db, nil
			}

			if attempt == connectAttempts {
				return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
			}

			sublogger.Error().Err(err).Int("attempt", attempt).Msg("failed to connect to database")
			time.Sleep(3 * time.Second)
		}
	}
}
