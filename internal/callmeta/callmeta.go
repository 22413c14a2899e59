// Package callmeta derives call details from dispatch recorder filenames of
// the form Agency_Town_TYPE_YYYY_MM_DD_HH_MM_SS.ext.
package callmeta

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Meta is what a recorder filename tells us about a call.
type Meta struct {
	Agency   string    `json:"agency"`
	CallType string    `json:"call_type"`
	Category string    `json:"category"`
	Time     time.Time `json:"call_time"`
	FileName string    `json:"file_name"`
}

var ErrNoTimestamp = errors.New("filename has no YYYY_MM_DD_HH_MM_SS timestamp")

var (
	tokenSplitter   = regexp.MustCompile(`([a-z])([A-Z])`)
	separatorTokens = []string{"TWP", "FD", "Gen", "Duty"}
)

// Parse reads the filename. When no timestamp is found the returned Meta
// still carries FileName and the agency guess, along with ErrNoTimestamp.
func Parse(fileName string, loc *time.Location) (Meta, error) {
	if loc == nil {
		loc = time.Local
	}
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	meta := Meta{FileName: filepath.Base(fileName)}

	// Doubled separators ("EMS__Duty") produce no empty segments.
	parts := strings.FieldsFunc(base, func(r rune) bool { return r == '_' })
	at := timestampIndex(parts)
	if at < 0 {
		meta.Agency = display(strings.Join(parts, " "))
		meta.Category = Category("")
		return meta, fmt.Errorf("%s: %w", meta.FileName, ErrNoTimestamp)
	}

	var n [6]int
	for i := range n {
		n[i], _ = strconv.Atoi(parts[at+i])
	}
	meta.Time = time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, loc)

	descriptive := parts[:at]
	switch len(descriptive) {
	case 0:
	case 1:
		meta.Agency = display(descriptive[0])
	default:
		meta.Agency = display(strings.Join(descriptive[:len(descriptive)-1], " "))
		meta.CallType = strings.ToUpper(descriptive[len(descriptive)-1])
	}
	meta.Category = Category(meta.CallType)
	return meta, nil
}

// timestampIndex finds the last run of six numeric segments. Anything after
// it (for example a "_proc" suffix) is ignored.
func timestampIndex(parts []string) int {
	for i := len(parts) - 6; i >= 0; i-- {
		ok := true
		for _, p := range parts[i : i+6] {
			if _, err := strconv.Atoi(p); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

// Category maps a free-form call type to ems, fire or other.
func Category(callType string) string {
	t := strings.ToLower(callType)
	switch {
	case strings.Contains(t, "ems"), strings.Contains(t, "medic"), strings.Contains(t, "rescue"):
		return "ems"
	case strings.Contains(t, "fire"), t == "fd", strings.Contains(t, "smoke"), strings.Contains(t, "brush"):
		return "fire"
	default:
		return "other"
	}
}

// Title renders "Agency TYPE at 15:04 on 1/2/2006".
func (m Meta) Title() string {
	name := strings.TrimSpace(m.Agency + " " + m.CallType)
	if name == "" {
		name = m.FileName
	}
	if m.Time.IsZero() {
		return name
	}
	ts := m.Time
	return fmt.Sprintf("%s at %02d:%02d on %d/%d/%d", name, ts.Hour(), ts.Minute(), ts.Month(), ts.Day(), ts.Year())
}

func display(value string) string {
	value = strings.ReplaceAll(value, "_", " ")
	value = tokenSplitter.ReplaceAllString(value, "$1 $2")
	for _, token := range separatorTokens {
		value = strings.ReplaceAll(value, token, " "+token+" ")
	}
	return strings.Join(strings.Fields(value), " ")
}
