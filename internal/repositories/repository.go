package repositories

import "context"

// Repository aggregates every domain repository behind one handle.
type Repository interface {
	// Paper domain
	Paper() PaperRepository

	// Registration and session domain
	Registration() RegistrationRepository
	Answer() AnswerRepository

	// User domain (read-only for the exam service)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
