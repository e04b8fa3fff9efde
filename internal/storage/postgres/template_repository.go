package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

type templateRepository struct {
	db *sql.DB
}

// NewTemplateRepository создаёт PostgreSQL-реализацию TemplateRepository.
func NewTemplateRepository(store *Store) domain.TemplateRepository {
	return &templateRepository{db: store.DB()}
}

func (r *templateRepository) Get(key string) (domain.EmailTemplate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var tpl domain.EmailTemplate
	err := r.db.QueryRowContext(ctx, `
		SELECT key, subject, body
		FROM email_templates
		WHERE key = $1
	`, key).Scan(&tpl.Key, &tpl.Subject, &tpl.Body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmailTemplate{}, domain.ErrTemplateNotFound
		}
		return domain.EmailTemplate{}, fmt.Errorf("select email template: %w", err)
	}

	return tpl, nil
}

var _ domain.TemplateRepository = (*templateRepository)(nil)
