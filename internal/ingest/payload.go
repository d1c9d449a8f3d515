package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type listPage struct {
	Data   []rawLive `json:"data"`
	Paging paging    `json:"paging"`
}

type paging struct {
	IsEnd bool   `json:"is_end"`
	Next  string `json:"next"`
}

type rawLive struct {
	ID       flexID     `json:"id"`
	Subject  string     `json:"subject"`
	Outline  string     `json:"outline"`
	Status   string     `json:"status"`
	StartsAt int64      `json:"starts_at"`
	Fee      rawFee     `json:"fee"`
	Seats    rawSeats   `json:"seats"`
	Topics   []rawTopic `json:"topics"`
	Tags     []rawTag   `json:"tags"`
	Speaker  rawSpeaker `json:"speaker"`
}

type rawFee struct {
	Amount float64 `json:"amount"`
}

type rawSeats struct {
	Taken int `json:"taken"`
}

type rawTopic struct {
	Name string `json:"name"`
}

type rawTag struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

type rawSpeaker struct {
	Bio    string    `json:"bio"`
	Member rawMember `json:"member"`
}

type rawMember struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	Headline  string `json:"headline"`
	AvatarURL string `json:"avatar_url"`
	URLToken  string `json:"url_token"`
	Gender    int    `json:"gender"`
}

// flexID accepts identifiers encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}
