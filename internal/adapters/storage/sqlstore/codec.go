package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

// Entity is a tracked record that also carries annotations.
type Entity interface {
	board.Entity
	Annotate() *domain.Annotations
}

// Codec maps one entity kind to the kind-specific payload_json column.
type Codec[E Entity] struct {
	Kind   domain.Kind
	Encode func(E) any
	Decode func(raw []byte, tr domain.Tracking, notes domain.Annotations) (E, error)
}

type cardPayload struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type clientPayload struct {
	Name       string            `json:"name"`
	Company    string            `json:"company,omitempty"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	ClientType domain.ClientType `json:"client_type"`
}

type jobPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value"`
	ClientID    string  `json:"client_id,omitempty"`
	ProjectID   string  `json:"project_id,omitempty"`
	Agency      string  `json:"agencia,omitempty"`
	Producer    string  `json:"produtora,omitempty"`
}

// CardCodec stores kanban cards.
var CardCodec = Codec[*domain.Card]{
	Kind: domain.KindKanban,
	Encode: func(c *domain.Card) any {
		return cardPayload{ProjectID: c.ProjectID, Title: c.Title, Description: c.Description}
	},
	Decode: func(raw []byte, tr domain.Tracking, notes domain.Annotations) (*domain.Card, error) {
		var p cardPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode card payload_json: %w", err)
		}
		return &domain.Card{Tracking: tr, Annotations: notes, ProjectID: p.ProjectID, Title: p.Title, Description: p.Description}, nil
	},
}

// ClientCodec stores sales clients.
var ClientCodec = Codec[*domain.Client]{
	Kind: domain.KindSales,
	Encode: func(c *domain.Client) any {
		return clientPayload{Name: c.Name, Company: c.Company, Email: c.Email, Phone: c.Phone, Notes: c.Notes, ClientType: c.ClientType}
	},
	Decode: func(raw []byte, tr domain.Tracking, notes domain.Annotations) (*domain.Client, error) {
		var p clientPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode client payload_json: %w", err)
		}
		return &domain.Client{
			Tracking:    tr,
			Annotations: notes,
			Name:        p.Name,
			Company:     p.Company,
			Email:       p.Email,
			Phone:       p.Phone,
			Notes:       p.Notes,
			ClientType:  p.ClientType,
		}, nil
	},
}

// JobCodec stores production jobs.
var JobCodec = Codec[*domain.Job]{
	Kind: domain.KindJobs,
	Encode: func(j *domain.Job) any {
		return jobPayload{
			Title:       j.Title,
			Description: j.Description,
			Value:       j.Value,
			ClientID:    j.ClientID,
			ProjectID:   j.ProjectID,
			Agency:      j.Agency,
			Producer:    j.Producer,
		}
	},
	Decode: func(raw []byte, tr domain.Tracking, notes domain.Annotations) (*domain.Job, error) {
		var p jobPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode job payload_json: %w", err)
		}
		return &domain.Job{
			Tracking:    tr,
			Annotations: notes,
			Title:       p.Title,
			Description: p.Description,
			Value:       p.Value,
			ClientID:    p.ClientID,
			ProjectID:   p.ProjectID,
			Agency:      p.Agency,
			Producer:    p.Producer,
		}, nil
	},
}

type commentRow struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type attachmentRow struct {
	ID          string                `json:"id"`
	Type        domain.AttachmentType `json:"type"`
	Name        string                `json:"name"`
	ObjectKey   string                `json:"object_key"`
	ContentType string                `json:"content_type"`
	Size        int64                 `json:"size"`
	CreatedAt   time.Time             `json:"created_at"`
}

func encodeAnnotations(notes *domain.Annotations) (comments, attachments string, err error) {
	cRows := make([]commentRow, 0, len(notes.Comments))
	for _, c := range notes.Comments {
		cRows = append(cRows, commentRow{ID: c.ID, Body: c.Body, Author: c.Author, CreatedAt: c.CreatedAt.UTC()})
	}
	aRows := make([]attachmentRow, 0, len(notes.Attachments))
	for _, a := range notes.Attachments {
		aRows = append(aRows, attachmentRow{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
			CreatedAt:   a.CreatedAt.UTC(),
		})
	}
	cJSON, err := json.Marshal(cRows)
	if err != nil {
		return "", "", fmt.Errorf("encode comments_json: %w", err)
	}
	aJSON, err := json.Marshal(aRows)
	if err != nil {
		return "", "", fmt.Errorf("encode attachments_json: %w", err)
	}
	return string(cJSON), string(aJSON), nil
}

func decodeAnnotations(comments, attachments string) (domain.Annotations, error) {
	var (
		cRows []commentRow
		aRows []attachmentRow
	)
	if comments != "" {
		if err := json.Unmarshal([]byte(comments), &cRows); err != nil {
			return domain.Annotations{}, fmt.Errorf("decode comments_json: %w", err)
		}
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &aRows); err != nil {
			return domain.Annotations{}, fmt.Errorf("decode attachments_json: %w", err)
		}
	}
	out := domain.Annotations{}
	for _, c := range cRows {
		out.Comments = append(out.Comments, domain.Comment{ID: c.ID, Body: c.Body, Author: c.Author, CreatedAt: c.CreatedAt.UTC()})
	}
	for _, a := range aRows {
		out.Attachments = append(out.Attachments, domain.Attachment{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
			CreatedAt:   a.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// encodeDurations stores accumulated time in whole milliseconds.
func encodeDurations(in map[string]time.Duration) (string, error) {
	ms := make(map[string]int64, len(in))
	for id, d := range in {
		ms[id] = d.Milliseconds()
	}
	raw, err := json.Marshal(ms)
	if err != nil {
		return "", fmt.Errorf("encode time_in_container_json: %w", err)
	}
	return string(raw), nil
}

func decodeDurations(raw string) (map[string]time.Duration, error) {
	ms := map[string]int64{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &ms); err != nil {
			return nil, fmt.Errorf("decode time_in_container_json: %w", err)
		}
	}
	out := make(map[string]time.Duration, len(ms))
	for id, v := range ms {
		out[id] = time.Duration(v) * time.Millisecond
	}
	return out, nil
}
