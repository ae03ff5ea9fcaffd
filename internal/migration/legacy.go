package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Legacy protocol kinds.
const (
	TypeHandover = "handover"
	TypeReturn   = "return"
)

// LegacyPhoto is one photo reference of a V1 protocol.
type LegacyPhoto struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare URL string; older V1
// rows stored photos as plain URL arrays.
func (p *LegacyPhoto) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		*p = LegacyPhoto{URL: url}
		return nil
	}
	type plain LegacyPhoto
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = LegacyPhoto(out)
	return nil
}

// LegacyRecord is a V1 protocol as read from the legacy store. A nil Photos
// slice means the collection is missing, which is different from empty.
type LegacyRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RentalID  string         `json:"rentalId,omitempty"`
	Photos    []LegacyPhoto  `json:"photos"`
	PDFURL    string         `json:"pdfUrl,omitempty"`
	CreatedAt *time.Time     `json:"createdAt"`
	Data      map[string]any `json:"data,omitempty"`
}

// UnmarshalJSON also accepts the snake_case keys of V1 table exports
// (created_at, rental_id, pdf_url). camelCase wins when both are present.
func (r *LegacyRecord) UnmarshalJSON(data []byte) error {
	type plain LegacyRecord
	var out struct {
		plain
		SnakeRentalID  string     `json:"rental_id"`
		SnakePDFURL    string     `json:"pdf_url"`
		SnakeCreatedAt *time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*r = LegacyRecord(out.plain)
	if r.RentalID == "" {
		r.RentalID = out.SnakeRentalID
	}
	if r.PDFURL == "" {
		r.PDFURL = out.SnakePDFURL
	}
	if r.CreatedAt == nil {
		r.CreatedAt = out.SnakeCreatedAt
	}
	return nil
}

// IsValidLegacyRecord reports whether the record can be migrated: it needs
// an id, a known type, a photos collection (possibly empty), and a creation
// time.
func IsValidLegacyRecord(r LegacyRecord) bool {
	if strings.TrimSpace(r.ID) == "" {
		return false
	}
	if r.Type != TypeHandover && r.Type != TypeReturn {
		return false
	}
	if r.Photos == nil {
		return false
	}
	return r.CreatedAt != nil && !r.CreatedAt.IsZero()
}

// invalidReason names the first check a record fails.
func invalidReason(r LegacyRecord) string {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return "record has no id"
	case r.Type != TypeHandover && r.Type != TypeReturn:
		return "unknown protocol type " + strconv.Quote(r.Type)
	case r.Photos == nil:
		return "record has no photos collection"
	case r.CreatedAt == nil || r.CreatedAt.IsZero():
		return "record has no creation time"
	default:
		return ""
	}
}

// Filter narrows the legacy records a run covers. Zero values match all.
type Filter struct {
	ProtocolIDs []string
	StartDate   time.Time
	EndDate     time.Time
}

// matches applies the filter in memory. Date bounds exclude records without
// a creation time, like a SQL comparison against NULL.
func (f Filter) matches(r LegacyRecord) bool {
	if len(f.ProtocolIDs) > 0 && !slices.Contains(f.ProtocolIDs, r.ID) {
		return false
	}
	if !f.StartDate.IsZero() && (r.CreatedAt == nil || r.CreatedAt.Before(f.StartDate)) {
		return false
	}
	if !f.EndDate.IsZero() && (r.CreatedAt == nil || r.CreatedAt.After(f.EndDate)) {
		return false
	}
	return true
}

// LegacyReader reads V1 protocols.
type LegacyReader interface {
	// List returns matching records ordered by creation time, records
	// without one last.
	List(ctx context.Context, filter Filter) ([]LegacyRecord, error)
	// Get returns nil without error when the record does not exist.
	Get(ctx context.Context, id string) (*LegacyRecord, error)
	Close()
}

func sortRecords(records []LegacyRecord) {
	slices.SortStableFunc(records, func(a, b LegacyRecord) int {
		switch {
		case a.CreatedAt == nil && b.CreatedAt == nil:
			return strings.Compare(a.ID, b.ID)
		case a.CreatedAt == nil:
			return 1
		case b.CreatedAt == nil:
			return -1
		}
		if c := a.CreatedAt.Compare(*b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
