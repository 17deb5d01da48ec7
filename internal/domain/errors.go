package domain

import "errors"

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidTitle       = errors.New("invalid title")
	ErrInvalidKind        = errors.New("invalid board kind")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidContainerID = errors.New("invalid container id")
	ErrInvalidClientType  = errors.New("invalid client type")
	ErrInvalidValue       = errors.New("invalid value")
	ErrInvalidBody        = errors.New("invalid comment body")
	ErrInvalidAttachment  = errors.New("invalid attachment")
)
