package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CheckoutEvent is the success payload posted by a checkout bot.
type CheckoutEvent struct {
	Bot         string          `json:"bot"`
	Retailer    string          `json:"retailer"`
	Product     string          `json:"product"`
	ProductID   LooseID         `json:"product_id"`
	Price       decimal.Decimal `json:"price"`
	OrderNumber string          `json:"orderNumber"`
	Email       string          `json:"email"`
	Profile     LooseID         `json:"profile"`
	ProfileID   LooseID         `json:"profile_id"`
	Quantity    int             `json:"quantity"`
	Timestamp   LooseTime       `json:"timestamp"`
}

// ProfileRef returns whichever profile reference the bot filled in.
func (e *CheckoutEvent) ProfileRef() LooseID {
	if e.ProfileID != "" {
		return e.ProfileID
	}
	return e.Profile
}

// LooseID accepts a JSON string or number. Bots disagree on which.
type LooseID string

func (id *LooseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LooseID(strings.TrimSpace(s))
		return nil
	}
	*id = LooseID(data)
	return nil
}

// Uint parses the id as a positive integer row id.
func (id LooseID) Uint() (uint, bool) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// LooseTime accepts RFC 3339 strings, unix seconds or unix milliseconds.
// Anything else decodes to the zero time and is logged at debug level.
type LooseTime struct {
	time.Time
}

func (t *LooseTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := data
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			log.Debug().Err(err).Bytes("timestamp", raw).Msg("ignoring malformed checkout timestamp")
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed
			return nil
		}
		data = []byte(s)
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || n <= 0 {
		log.Debug().Bytes("timestamp", raw).Msg("ignoring malformed checkout timestamp")
		return nil
	}
	if n > 1e12 {
		t.Time = time.UnixMilli(n)
	} else {
		t.Time = time.Unix(n, 0)
	}
	return nil
}
