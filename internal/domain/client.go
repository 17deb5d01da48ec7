package domain

import (
	"slices"
	"strings"
	"time"
)

// ClientType classifies a sales-pipeline client.
type ClientType string

// ClientType values.
const (
	ClientTypeAgency     ClientType = "agencia"
	ClientTypeProducer   ClientType = "produtora"
	ClientTypeAdvertiser ClientType = "anunciante"
)

var validClientTypes = []ClientType{ClientTypeAgency, ClientTypeProducer, ClientTypeAdvertiser}

// Client represents one lead or customer in the sales pipeline.
type Client struct {
	Tracking
	Annotations
	Name       string
	Company    string
	Email      string
	Phone      string
	Notes      string
	ClientType ClientType
}

// ClientInput holds input values for client creation.
type ClientInput struct {
	ID          string
	ContainerID string
	Name        string
	Company     string
	Email       string
	Phone       string
	Notes       string
	ClientType  ClientType
}

// NewClient constructs a client entering its first sales stage.
func NewClient(in ClientInput, logID string, now time.Time) (*Client, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrInvalidName
	}
	clientType, err := parseClientType(string(in.ClientType))
	if err != nil {
		return nil, err
	}
	tracking, err := NewTracking(in.ID, in.ContainerID, logID, "Client created", now)
	if err != nil {
		return nil, err
	}
	return &Client{
		Tracking:   tracking,
		Name:       in.Name,
		Company:    strings.TrimSpace(in.Company),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		Notes:      strings.TrimSpace(in.Notes),
		ClientType: clientType,
	}, nil
}

// Label returns the client name, qualified by company when present.
func (c *Client) Label() string {
	if c.Company == "" {
		return c.Name
	}
	return c.Name + " (" + c.Company + ")"
}

// Markdown returns the free-form notes.
func (c *Client) Markdown() string {
	return c.Notes
}

// ApplyPatch updates editable client fields and reports which ones changed.
func (c *Client) ApplyPatch(p Patch, now time.Time) ([]string, error) {
	var changed []string
	if name, ok := p.value("name"); ok {
		if name == "" {
			return nil, ErrInvalidName
		}
		if name != c.Name {
			c.Name = name
			changed = append(changed, "name")
		}
	}
	if raw, ok := p.value("client_type"); ok {
		clientType, err := parseClientType(raw)
		if err != nil {
			return nil, err
		}
		if clientType != c.ClientType {
			c.ClientType = clientType
			changed = append(changed, "client_type")
		}
	}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{"company", &c.Company},
		{"email", &c.Email},
		{"phone", &c.Phone},
		{"notes", &c.Notes},
	} {
		if v, ok := p.value(field.key); ok && v != *field.dst {
			*field.dst = v
			changed = append(changed, field.key)
		}
	}
	if len(changed) > 0 {
		c.UpdatedAt = now.UTC()
	}
	return changed, nil
}

// parseClientType validates an optional client type.
func parseClientType(raw string) (ClientType, error) {
	clientType := ClientType(strings.TrimSpace(strings.ToLower(raw)))
	if clientType == "" {
		return "", nil
	}
	if !slices.Contains(validClientTypes, clientType) {
		return "", ErrInvalidClientType
	}
	return clientType, nil
}

// Fields returns the kind-specific editable fields.
func (c *Client) Fields() map[string]string {
	return map[string]string{
		"name":        c.Name,
		"company":     c.Company,
		"email":       c.Email,
		"phone":       c.Phone,
		"notes":       c.Notes,
		"client_type": string(c.ClientType),
	}
}
