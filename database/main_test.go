package database

import (
	"context"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	loadSql "github.com/siherrmann/resolver/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

const testEmbeddingDim = 3

var dbPort string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

func initDB(t *testing.T) *helper.Database {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	database := helper.NewTestDatabase(dbConfig)

	err = loadSql.Init(database.Instance)
	require.NoError(t, err)

	return database
}

func initStore(t *testing.T) *PostgresStore {
	store, err := NewPostgresStore(initDB(t), testEmbeddingDim, true)
	require.NoError(t, err, "Expected NewPostgresStore to not return an error")
	return store
}

// newTestEntity returns an entity with a unique name so tests sharing the container do not collide.
func newTestEntity(entityType model.EntityType, name string) *model.Entity {
	suffix := uuid.NewString()[:8]
	return &model.Entity{
		Type:               entityType,
		DisplayName:        name + " " + suffix,
		NormalizedName:     "test " + suffix,
		Attributes:         model.Metadata{},
		VerificationStatus: model.StatusUnverified,
		Confidence:         0.3,
	}
}

func uniqueCanonicalID() string {
	return "Q" + uuid.NewString()[:12]
}
