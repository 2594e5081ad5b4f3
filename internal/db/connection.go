package db

import (
	"fmt"
	"log"
	"os"

	"github.com/beacongate/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect initializes the database connection
func Connect() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})

	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	log.Println("✅ Database connected successfully")
}

// AutoMigrate runs database migrations
func AutoMigrate() {
	entities := []struct {
		name  string
		model interface{}
	}{
		{"User", &models.User{}},
		{"Evidence", &models.Evidence{}},
		{"CaptureRun", &models.CaptureRun{}},
		{"Artifact", &models.Artifact{}},
		{"Case", &models.Case{}},
		{"Decision", &models.Decision{}},
		{"PolicyRule", &models.PolicyRule{}},
		{"RuleRun", &models.RuleRun{}},
		{"QueueItem", &models.QueueItem{}},
		{"KnowledgeDocument", &models.KnowledgeDocument{}},
		{"KnowledgeChunk", &models.KnowledgeChunk{}},
		{"KnowledgeEmbedding", &models.KnowledgeEmbedding{}},
		{"RetrievalRun", &models.RetrievalRun{}},
		{"LLMRun", &models.LLMRun{}},
	}

	for _, e := range entities {
		if err := DB.AutoMigrate(e.model); err != nil {
			log.Printf("%s migration failed: %v", e.name, err)
			return
		}
		log.Printf("✅ %s table migrated successfully", e.name)
	}

	log.Println("✅ All database migrations completed successfully")
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
