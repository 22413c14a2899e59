package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"incident_extractor/internal/callmeta"
	"incident_extractor/internal/normalize"
)

// Message represents an outbound alert.
type Message struct {
	Text string `json:"text"`
}

// GroupMe posts alerts through a GroupMe bot. A zero bot id disables it.
type GroupMe struct {
	botID  string
	url    string
	client *http.Client
}

func NewGroupMe(botID, url string, client *http.Client) *GroupMe {
	if client == nil {
		client = http.DefaultClient
	}
	return &GroupMe{botID: strings.TrimSpace(botID), url: url, client: client}
}

func (g *GroupMe) Enabled() bool { return g != nil && g.botID != "" }

// Send posts msg if the bot is configured.
func (g *GroupMe) Send(ctx context.Context, msg Message) error {
	if !g.Enabled() {
		return nil
	}
	payload := map[string]string{"text": msg.Text, "bot_id": g.botID}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("groupme status %d", resp.StatusCode)
	}
	return nil
}

// summaryFields are shown in alert order when the extraction found them.
var summaryFields = []struct{ field, label string }{
	{"incident_final_type", "Type"},
	{"incident_location", "Location"},
	{"unit_response", "Units"},
	{"incident_narrative_outcome", "Outcome"},
}

// SummaryFields lists the fields Summary reads.
func SummaryFields() []string {
	out := make([]string, len(summaryFields))
	for i, f := range summaryFields {
		out[i] = f.field
	}
	return out
}

// Summary renders a short incident alert from call metadata and an
// extraction result.
func Summary(meta callmeta.Meta, res normalize.Result) Message {
	lines := []string{meta.Title()}
	for _, f := range summaryFields {
		if v := strings.TrimSpace(res.Value(f.field)); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", f.label, v))
		}
	}
	if len(lines) == 1 {
		lines = append(lines, "No incident details extracted.")
	}
	return Message{Text: strings.Join(lines, "\n")}
}
