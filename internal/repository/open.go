package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"stocksync-api/internal/config"
	"stocksync-api/internal/logger"
)

// Stores bundles the inventory repository with the state repository.
// When both live on the same backend they share one connection.
type Stores struct {
	Inventory     InventoryRepository
	State         StateRepository
	InventoryType string
	StateType     string

	closers []func() error
}

// Close releases every connection opened by Open, state first.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the configured inventory and state backends and creates
// their tables or indexes.
func Open(ctx context.Context, inv config.InventoryDBConfig, st config.StateDBConfig, log *zap.Logger) (*Stores, error) {
	log = logger.OrNop(log)
	s := &Stores{
		InventoryType: normalizeType(inv.Type),
		StateType:     normalizeType(st.ResolvedType(inv.Type)),
	}

	var (
		invDB    *sql.DB
		invMongo *mongo.Database
	)
	switch s.InventoryType {
	case "mongodb":
		repo, err := NewMongoDBInventoryRepository(ctx, inv.MongoURI, inv.MongoDatabase, inv.MongoCollection, log)
		if err != nil {
			return nil, err
		}
		s.Inventory, invMongo = repo, repo.Database()
	case "postgres":
		db, err := OpenPostgres(inv.PostgresDSN())
		if err != nil {
			return nil, err
		}
		repo := NewPostgresInventoryRepository(db, log)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.Inventory, invDB = repo, db
	case "sqlite":
		db, err := OpenSQLite(inv.Path)
		if err != nil {
			return nil, err
		}
		repo, err := NewSQLiteInventoryRepository(ctx, db, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.Inventory, invDB = repo, db
	default:
		return nil, fmt.Errorf("unknown inventory backend %q", inv.Type)
	}
	s.closers = append(s.closers, s.Inventory.Close)

	state, err := s.openState(ctx, inv, st, invDB, invMongo)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.State = state

	log.Info("stores opened", zap.String("inventory", s.InventoryType), zap.String("state", s.StateType))
	return s, nil
}

func (s *Stores) openState(ctx context.Context, inv config.InventoryDBConfig, st config.StateDBConfig, invDB *sql.DB, invMongo *mongo.Database) (StateRepository, error) {
	shared := s.StateType == s.InventoryType

	var repo *SQLStateRepository
	switch s.StateType {
	case "mongodb":
		if shared {
			return NewMongoDBStateRepository(invMongo), nil
		}
		client, err := ConnectMongo(ctx, inv.MongoURI)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		return NewMongoDBStateRepository(client.Database(inv.MongoDatabase)), nil
	case "sqlite":
		db := invDB
		if !shared {
			var err error
			if db, err = OpenSQLite(inv.Path); err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db.Close)
		}
		repo = NewSQLiteStateRepository(db)
	case "postgres":
		db := invDB
		if !shared {
			var err error
			if db, err = OpenPostgres(inv.PostgresDSN()); err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db.Close)
		}
		repo = NewPostgresStateRepository(db)
	case "mysql":
		db, err := OpenMySQL(st.MySQLDSN())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		repo = NewMySQLStateRepository(db)
	default:
		return nil, fmt.Errorf("unknown state backend %q", st.Type)
	}

	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func normalizeType(t string) string {
	switch t {
	case "mongo":
		return "mongodb"
	case "postgresql":
		return "postgres"
	case "":
		return "sqlite"
	}
	return t
}
