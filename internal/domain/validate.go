package domain

import (
	"regexp"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxEnqueueItems bounds a single AddToQueue call.
	MaxEnqueueItems = 500
	// MaxEntryIDs bounds a single confirm or remove call.
	MaxEntryIDs = 100

	maxActorLen = 128
)

// Subject ids are order-line references such as "SO-1042:3".
var subjectIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("subject_id", func(fl validator.FieldLevel) bool {
		return subjectIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("payload_version", func(fl validator.FieldLevel) bool {
		return supportedPayloadVersions[int(fl.Field().Int())]
	})
	return v
}

// Validate checks a single enqueue item, including its payload snapshot.
func (it EnqueueItem) Validate() error {
	if err := validate.Struct(it); err != nil {
		return validationError(err, "invalid enqueue item")
	}
	return nil
}

// NormalizeEnqueueItems validates items and collapses repeated subject ids to
// their first occurrence, preserving order. A payload without a version is
// stamped with the current PayloadVersion.
func NormalizeEnqueueItems(items []EnqueueItem) ([]EnqueueItem, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if len(items) > MaxEnqueueItems {
		return nil, ErrTooManyItems
	}

	seen := make(map[string]bool, len(items))
	out := make([]EnqueueItem, 0, len(items))
	for i, it := range items {
		if it.Payload.Version == 0 {
			it.Payload.Version = PayloadVersion
		}
		if err := it.Validate(); err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		if seen[it.SubjectID] {
			continue
		}
		seen[it.SubjectID] = true
		it.Payload = it.Payload.Clone()
		out = append(out, it)
	}
	return out, nil
}

// NormalizeEntryIDs checks that ids is non-empty and every id is a UUID, and
// returns the ids in canonical form with duplicates removed.
func NormalizeEntryIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoIDs
	}
	if len(ids) > MaxEntryIDs {
		return nil, ErrTooManyIDs
	}

	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, validationError(err, "malformed entry id "+quoteShort(raw))
		}
		s := id.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// ValidateActor accepts an empty actor (it is optional) or a short printable
// identifier.
func ValidateActor(actor string) error {
	if len(actor) > maxActorLen {
		return ErrInvalidActor
	}
	for _, r := range actor {
		if !unicode.IsPrint(r) {
			return ErrInvalidActor
		}
	}
	return nil
}

func quoteShort(s string) string {
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return `"` + s + `"`
}
