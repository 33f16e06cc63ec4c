// Package postgres keeps updates in a PostgreSQL table and uses LISTEN/NOTIFY
// to learn about changes to it
package postgres

import (
	"airlive/models"
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Host                 string
	Port                 int
	User                 string
	Password             string
	Name                 string
	SSLMode              string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
}

// Store handles all database operations with a shared connection pool
type Store struct {
	db     *sql.DB
	config Config
}

func buildConnectionString(cfg Config) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslmode,
	)
}

func New(cfg Config) (*Store, error) {
	if cfg.MinReconnectInterval == 0 {
		cfg.MinReconnectInterval = 10 * time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = time.Minute
	}

	db, err := sql.Open("postgres", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)           // Page renders and live refetches may overlap
	db.SetMaxIdleConns(2)            // Keep some connections ready
	db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	return &Store{db: db, config: cfg}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// allUpdatesQuery is shared by every read so ordering never differs between them
func allUpdatesQuery() (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "title", "content", "published_at").From("updates")
	sb.OrderBy("published_at").Desc()
	return sb.Build()
}

func (s *Store) FetchAll(ctx context.Context) ([]models.Update, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query, args := allUpdatesQuery()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	updates := []models.Update{}
	for rows.Next() {
		var update models.Update
		var title sql.NullString
		if err := rows.Scan(&update.Id, &title, &update.Content, &update.PublishedAt); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Skipping unreadable update row")
			continue
		}
		update.Title = title.String
		updates = append(updates, update)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return updates, nil
}
