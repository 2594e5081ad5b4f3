package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/beacongate/backend/internal/db"
	"github.com/beacongate/backend/internal/models"
	"github.com/beacongate/backend/internal/services"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// UserData represents the structure of users in the JSON file
type UserData struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// JSONData represents the structure of the JSON files
type JSONData struct {
	Users []UserData `json:"users"`
}

// PrecedentData represents one entry in seed_precedents.json
type PrecedentData struct {
	Title           string   `json:"title"`
	ScenarioSummary string   `json:"scenarioSummary"`
	TriggeredRules  []string `json:"triggeredRules"`
	Outcome         string   `json:"outcome"`
	Rationale       string   `json:"rationale"`
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Connect to database
	db.Connect()

	// Run migrations first
	log.Println("Running database migrations...")
	db.AutoMigrate()

	log.Println("Seeding database...")

	// Load and create users from JSON
	if err := seedUsers(); err != nil {
		log.Printf("Error seeding users: %v", err)
	}

	// Sync policy rules from the YAML config
	if err := seedRules(); err != nil {
		log.Printf("Error seeding rules: %v", err)
	}

	// Ingest policy documents and precedents for retrieval
	if err := seedKnowledge(); err != nil {
		log.Printf("Error seeding knowledge base: %v", err)
	}

	log.Println("✅ Database seeding completed successfully!")
}

func seedUsers() error {
	// Read users JSON file
	usersData, err := os.ReadFile("data/initial-users.json")
	if err != nil {
		return err
	}

	var jsonData JSONData
	if err := json.Unmarshal(usersData, &jsonData); err != nil {
		return err
	}

	// Create users
	for _, userData := range jsonData.Users {
		// Hash password
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(userData.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing password for %s: %v", userData.Email, err)
			continue
		}

		// Map role string to Role enum
		var role models.UserRole
		switch userData.Role {
		case "admin":
			role = models.RoleAdmin
		case "reviewer":
			role = models.RoleReviewer
		case "viewer":
			role = models.RoleViewer
		default:
			log.Printf("Unknown role %s for user %s, defaulting to viewer", userData.Role, userData.Email)
			role = models.RoleViewer
		}

		user := models.User{
			Email:     userData.Email,
			Password:  string(hashedPassword),
			FirstName: userData.FirstName,
			LastName:  userData.LastName,
			Role:      role,
		}

		// Check if user already exists
		var existingUser models.User
		if err := db.DB.Where("email = ?", user.Email).First(&existingUser).Error; err != nil {
			if err := db.DB.Create(&user).Error; err != nil {
				log.Printf("Error creating user %s: %v", user.Email, err)
			} else {
				log.Printf("✅ Created user: %s (%s)", user.Email, user.Role)
			}
		} else {
			log.Printf("⚠️  User already exists: %s", user.Email)
		}
	}

	return nil
}

func seedRules() error {
	configPath := os.Getenv("RULES_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/rules.yaml"
	}

	defs, err := services.LoadRuleDefinitions(configPath)
	if err != nil {
		return err
	}
	if err := services.SyncRules(db.DB, defs); err != nil {
		return err
	}
	log.Printf("✅ Synced %d policy rules", len(defs))
	return nil
}

func seedKnowledge() error {
	embedder := services.NewEmbeddingService()
	knowledge := services.NewKnowledgeService(db.DB, embedder)

	// Policy documents: every markdown file under data/rag/policies
	policiesDir := "data/rag/policies"
	entries, err := os.ReadDir(policiesDir)
	if err != nil {
		log.Printf("No %s folder, skipping policies", policiesDir)
	} else {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			content, err := os.ReadFile(filepath.Join(policiesDir, entry.Name()))
			if err != nil {
				log.Printf("Error reading policy %s: %v", entry.Name(), err)
				continue
			}
			base := strings.TrimSuffix(entry.Name(), ".md")
			title := strings.ReplaceAll(base, "_", " ")
			source := "BeaconGate Policy: " + base
			if _, err := knowledge.IngestPolicyDocument(title, source, string(content)); err != nil {
				log.Printf("Error ingesting policy %s: %v", title, err)
				continue
			}
			log.Printf("✅ Ingested policy: %s", title)
		}
	}

	// Precedents: one document per entry in the seed file
	precedentsPath := "data/rag/precedents/seed_precedents.json"
	raw, err := os.ReadFile(precedentsPath)
	if err != nil {
		log.Printf("No %s file, skipping precedents", precedentsPath)
		return nil
	}
	var precedents []PrecedentData
	if err := json.Unmarshal(raw, &precedents); err != nil {
		return err
	}
	for _, p := range precedents {
		source := "Precedent: " + p.Title
		if _, err := knowledge.IngestPrecedent(p.Title, source, p.ScenarioSummary, p.TriggeredRules, p.Outcome, p.Rationale); err != nil {
			log.Printf("Error ingesting precedent %s: %v", p.Title, err)
			continue
		}
		log.Printf("✅ Ingested precedent: %s", p.Title)
	}

	return nil
}
