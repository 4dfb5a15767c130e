package memoryservice

import (
	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

func validateCreate(p CreateParams) error {
	if len(p.Content) == 0 {
		return apperr.Invalid("content must not be empty")
	}
	if len(p.Content) > domain.MaxContentLen {
		return apperr.Invalid("content exceeds maximum length")
	}
	if len(p.Title) > domain.MaxTitleLen {
		return apperr.Invalid("title exceeds maximum length")
	}
	if len(p.Tags) > domain.MaxTags {
		return apperr.Invalid("too many tags")
	}
	for _, t := range p.Tags {
		if len(t) > domain.MaxTagLen {
			return apperr.Invalid("tag exceeds maximum length")
		}
	}
	if p.Visibility != "" && !p.Visibility.Valid() {
		return apperr.Invalid("invalid visibility")
	}
	if len(p.Attachments) > domain.MaxAttachmentsPerCreate {
		return apperr.Invalid("too many attachments")
	}
	return nil
}

func validateUpdate(p UpdateParams) error {
	if p.Content != nil {
		if len(*p.Content) == 0 {
			return apperr.Invalid("content must not be empty")
		}
		if len(*p.Content) > domain.MaxContentLen {
			return apperr.Invalid("content exceeds maximum length")
		}
	}
	if p.Title != nil && len(*p.Title) > domain.MaxTitleLen {
		return apperr.Invalid("title exceeds maximum length")
	}
	if len(p.Tags) > domain.MaxTags {
		return apperr.Invalid("too many tags")
	}
	if p.Visibility != nil && !p.Visibility.Valid() {
		return apperr.Invalid("invalid visibility")
	}
	return nil
}
