package config

import (
	"strconv"
	"strings"

	"github.com/printspool/printspoold/internal/errs"
)

// SubscriptionRecord is one decoded `<Subscription id>` block (§6).
type SubscriptionRecord struct {
	ID             int
	Events         []string
	Owner          string
	Recipient      string
	JobID          int
	PrinterName    string
	UserData       []byte
	LeaseDuration  int
	Interval       int
	ExpirationTime int64
	NextEventID    int
}

// ParseSubscriptionsConf decodes subscriptions.conf per §6, returning
// the `NextSubscriptionId` header plus every well-formed block.
func ParseSubscriptionsConf(data string) (nextSubscriptionID int, records []SubscriptionRecord, errsOut []BlockError, err error) {
	preamble, blocks, err := scanBlocks(data)
	if err != nil {
		return 0, nil, nil, err
	}
	nextSubscriptionID = parseIntDefault(firstOf(preamble["NextSubscriptionId"]), 1)

	for _, b := range blocks {
		if b.Tag != "Subscription" {
			continue
		}
		rec, decErr := decodeSubscriptionBlock(b)
		if decErr != nil {
			errsOut = append(errsOut, BlockError{Tag: b.Tag, Name: b.Name, Err: decErr})
			continue
		}
		records = append(records, rec)
	}
	return nextSubscriptionID, records, errsOut, nil
}

func firstOf(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func decodeSubscriptionBlock(b block) (SubscriptionRecord, error) {
	id, err := strconv.Atoi(b.Name)
	if err != nil {
		return SubscriptionRecord{}, errs.Wrap(errs.ConfigParse, "subscription id "+b.Name, err)
	}

	rec := SubscriptionRecord{
		ID:          id,
		Owner:       b.first("Owner"),
		Recipient:   b.first("Recipient"),
		PrinterName: b.first("PrinterName"),
	}
	if ev := b.first("Events"); ev != "" {
		rec.Events = strings.Fields(ev)
	}
	rec.JobID = parseIntDefault(b.first("JobId"), 0)
	rec.LeaseDuration = parseIntDefault(b.first("LeaseDuration"), 0)
	rec.Interval = parseIntDefault(b.first("Interval"), 0)
	rec.ExpirationTime = int64(parseIntDefault(b.first("ExpirationTime"), 0))
	rec.NextEventID = parseIntDefault(b.first("NextEventId"), 1)
	rec.UserData = unescapeUserData(b.first("UserData"))
	return rec, nil
}

// unescapeUserData reverses §6's `<HH>` hex-escaping of non-printable
// bytes and literal `<`.
func unescapeUserData(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '<' && i+3 < len(s) && s[i+3] == '>' {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(v))
				i += 3
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

// EscapeUserData applies §6's `<HH>` hex-escaping to non-printable
// bytes and literal `<`, for serializing a subscription block back out.
func EscapeUserData(data []byte) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for _, c := range data {
		if c == '<' || c < 0x20 || c >= 0x7f {
			b.WriteByte('<')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
			b.WriteByte('>')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
