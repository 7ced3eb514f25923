// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package validation wraps a shared go-playground/validator instance.
//
// Queued actions, records and configuration sections carry `validate` tags;
// callers run them through ValidateStruct and get back a *FieldErrors value
// whose message lists every failing field.
//
//	if err := validation.ValidateStruct(&action); err != nil {
//	    return fmt.Errorf("invalid action: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// entityTypePattern matches the key-safe names used for record collections.
var entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// FieldErrors is returned by ValidateStruct when any constraint fails.
type FieldErrors struct {
	Fields []FieldError
}

// Error joins the individual messages.
func (e *FieldErrors) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed validation.
func (e *FieldErrors) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// GetValidator returns the shared validator, registering custom tags on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails for an empty tag name.
		_ = validate.RegisterValidation("entitytype", func(fl validator.FieldLevel) bool {
			return entityTypePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidEntityType reports whether name can be used as a record collection name.
func ValidEntityType(name string) bool {
	return entityTypePattern.MatchString(name)
}

// ValidateStruct validates s. It returns nil or a *FieldErrors.
func ValidateStruct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &FieldErrors{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &FieldErrors{Fields: make([]FieldError, len(verrs))}
	for i, fe := range verrs {
		out.Fields[i] = FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return out
}

var simpleMessages = map[string]string{
	"required":   "%s is required",
	"entitytype": "%s must be a lowercase name of letters, digits, '_' or '-'",
	"url":        "%s must be a valid URL",
	"uuid4":      "%s must be a UUID",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

func translate(fe validator.FieldError) string {
	field := fe.Namespace()
	if tmpl, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
