// Package google implements the connector.Connector contract against the
// Google Workspace Admin SDK: the Directory API's tokens.list for
// third-party app/OAuth-grant discovery, and the Reports API's activities
// feed for usage events.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/singura/singura/pkg/connector"
)

const apiBase = "https://admin.googleapis.com/admin"

// Connector discovers OAuth-authorized third-party applications in a
// Google Workspace domain as automations.
type Connector struct {
	tokens  connector.TokenSource
	http    *connector.RateLimitedClient
	domain  string
}

// New creates a Google Workspace Connector for the given customer domain.
func New(tokens connector.TokenSource, domain string) *Connector {
	return &Connector{
		tokens: tokens,
		http:   connector.NewRateLimitedClient("google", 30*time.Second),
		domain: domain,
	}
}

func (c *Connector) Platform() connector.Platform { return connector.PlatformGoogle }

type tokensListResponse struct {
	Items []struct {
		ClientID     string   `json:"clientId"`
		DisplayText  string   `json:"displayText"`
		Scopes       []string `json:"scopes"`
		UserKey      string   `json:"userKey"`
		AnonymousApp bool     `json:"anonymous"`
	} `json:"items"`
}

// ListAutomations enumerates OAuth applications granted access by any user
// in the domain, mapping each grant's scopes into PermissionsRequired.
func (c *Connector) ListAutomations(ctx context.Context) ([]connector.CanonicalAutomation, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("google connector: getting access token: %w", err)
	}

	url := fmt.Sprintf("%s/directory/v1/customer/my_customer/tokens", apiBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google connector: listing tokens: %w", err)
	}
	defer resp.Body.Close()

	var parsed tokensListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("google connector: decoding tokens response: %w", err)
	}

	seen := make(map[string]connector.CanonicalAutomation)
	for _, item := range parsed.Items {
		if item.ClientID == "" {
			continue
		}
		existing, ok := seen[item.ClientID]
		if !ok {
			existing = connector.CanonicalAutomation{
				ExternalID:          item.ClientID,
				Platform:            connector.PlatformGoogle,
				Name:                item.DisplayText,
				PermissionsRequired: ScopesToPermissions(item.Scopes),
				CreatedAt:           time.Now(),
				OwnerExternalID:     item.UserKey,
			}
		} else {
			existing.PermissionsRequired = mergeUnique(existing.PermissionsRequired, ScopesToPermissions(item.Scopes))
		}
		seen[item.ClientID] = existing
	}

	automations := make([]connector.CanonicalAutomation, 0, len(seen))
	for _, a := range seen {
		automations = append(automations, a)
	}
	return automations, nil
}

type activitiesResponse struct {
	Items []struct {
		ID struct {
			Time string `json:"time"`
		} `json:"id"`
		Actor struct {
			Email string `json:"email"`
		} `json:"actor"`
		Events []struct {
			Name       string `json:"name"`
			Parameters []struct {
				Name       string   `json:"name"`
				Value      string   `json:"value"`
				MultiValue []string `json:"multiValue"`
				IntValue   string   `json:"intValue"`
			} `json:"parameters"`
		} `json:"events"`
	} `json:"items"`
}

// StreamActivity reads the OAuth token-activity application's events feed
// scoped to the given time window.
func (c *Connector) StreamActivity(ctx context.Context, automationExternalID string, since, until time.Time) (connector.ActivityBatch, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("google connector: getting access token: %w", err)
	}

	url := fmt.Sprintf("%s/reports/v1/activity/users/all/applications/token?startTime=%s&endTime=%s",
		apiBase, since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return connector.ActivityBatch{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("google connector: fetching activities: %w", err)
	}
	defer resp.Body.Close()

	var parsed activitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("google connector: decoding activities response: %w", err)
	}

	var batch connector.ActivityBatch
	for _, item := range parsed.Items {
		occurredAt, err := time.Parse(time.RFC3339, item.ID.Time)
		if err != nil {
			batch.DroppedCount++
			continue
		}

		for _, ev := range item.Events {
			clientID := clientIDParam(ev.Parameters)
			if clientID != automationExternalID {
				continue
			}
			batch.Events = append(batch.Events, connector.ActivityEvent{
				ExternalID:           fmt.Sprintf("%s:%s", item.ID.Time, ev.Name),
				AutomationExternalID: automationExternalID,
				Platform:             connector.PlatformGoogle,
				Action:               connector.ActionAPICall,
				OccurredAt:           occurredAt,
				ActorExternalID:      item.Actor.Email,
			})
		}
	}

	return batch, nil
}

func clientIDParam(params []struct {
	Name       string   `json:"name"`
	Value      string   `json:"value"`
	MultiValue []string `json:"multiValue"`
	IntValue   string   `json:"intValue"`
}) string {
	for _, p := range params {
		if p.Name == "client_id" {
			return p.Value
		}
	}
	return ""
}

func mergeUnique(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
