package sync

import (
	"context"
	"fmt"

	"github.com/shelfline/shelfline/internal/api"
	"github.com/shelfline/shelfline/internal/models"
)

// RESTAlertSource fetches alert state from the backend's alert resource.
type RESTAlertSource struct {
	Client *api.Client
}

// FetchAlerts returns the backend's current alert list.
func (s *RESTAlertSource) FetchAlerts(ctx context.Context) ([]models.AlertEvent, error) {
	resp, err := s.Client.Execute(ctx, "/api/alerts", api.Options{SkipErrorHandling: true})
	if err != nil {
		return nil, err
	}

	var body struct {
		Alerts []models.AlertEvent `json:"alerts"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("decode alert list: %w", err)
	}
	return body.Alerts, nil
}
