package domain

import (
	"mime"
	"path"
	"strings"
	"time"
)

// Comment stores an author-attributed note attached to an entity.
type Comment struct {
	ID        string
	Body      string
	Author    string
	CreatedAt time.Time
}

// NewComment constructs a normalized comment.
func NewComment(id, body, author string, now time.Time) (Comment, error) {
	id = strings.TrimSpace(id)
	body = strings.TrimSpace(body)
	author = strings.TrimSpace(author)
	if id == "" {
		return Comment{}, ErrInvalidID
	}
	if body == "" {
		return Comment{}, ErrInvalidBody
	}
	if author == "" {
		author = "trackflow-user"
	}
	return Comment{ID: id, Body: body, Author: author, CreatedAt: now.UTC()}, nil
}

// Summary returns the short form used in history details.
func (c Comment) Summary() string {
	runes := []rune(c.Body)
	if len(runes) <= 20 {
		return c.Body
	}
	return string(runes[:20]) + "..."
}

// AttachmentType classifies uploaded files.
type AttachmentType string

// AttachmentType values.
const (
	AttachmentTypeImage AttachmentType = "IMAGE"
	AttachmentTypeVideo AttachmentType = "VIDEO"
	AttachmentTypeFile  AttachmentType = "FILE"
)

// Attachment references an uploaded file held in object storage.
type Attachment struct {
	ID          string
	Type        AttachmentType
	Name        string
	ObjectKey   string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// NewAttachment constructs an attachment, inferring its type from the content type or file name.
func NewAttachment(id, name, objectKey, contentType string, size int64, now time.Time) (Attachment, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	objectKey = strings.TrimSpace(objectKey)
	if id == "" {
		return Attachment{}, ErrInvalidID
	}
	if name == "" || objectKey == "" || size < 0 {
		return Attachment{}, ErrInvalidAttachment
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Attachment{
		ID:          id,
		Type:        ClassifyAttachment(contentType),
		Name:        name,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   now.UTC(),
	}, nil
}

// ClassifyAttachment maps a MIME content type to an attachment type.
func ClassifyAttachment(contentType string) AttachmentType {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return AttachmentTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return AttachmentTypeVideo
	default:
		return AttachmentTypeFile
	}
}

// Annotations groups the comments and attachments every entity carries.
type Annotations struct {
	Comments    []Comment
	Attachments []Attachment
}

// Annotate exposes the annotation lists to generic callers.
func (a *Annotations) Annotate() *Annotations {
	return a
}
