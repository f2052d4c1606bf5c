// Package session implements the issued-codes verification gate: user
// identities are checked against a published CSV of access codes. The
// pipeline itself only consumes the verified identity for role inference and
// export audit fields, and tolerates its absence.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Session is a verified user identity.
type Session struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	TIN        string    `json:"tin"`
	Gmail      string    `json:"gmail"`
	Expiry     string    `json:"expiry"` // YYYY-MM-DD from the issued-codes sheet
	VerifiedAt time.Time `json:"verified_at"`
}

// Row is one issued-code record from the published CSV.
type Row struct {
	Code       string
	Name       string
	TIN        string
	Gmail      string
	Status     string
	ExpiryDate string
}

// Gate fetches and checks the issued-codes sheet.
type Gate struct {
	url    string
	client *http.Client
}

// NewGate creates a gate against the published CSV URL.
func NewGate(url string) *Gate {
	return &Gate{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchCodes downloads and parses the issued-codes CSV.
func (g *Gate) FetchCodes(ctx context.Context) ([]Row, error) {
	if g.url == "" {
		return nil, fmt.Errorf("issued-codes CSV URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching issued codes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issued codes fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading issued codes: %w", err)
	}
	return ParseCodes(string(body)), nil
}

// Verify checks the supplied identity against the sheet: the code and gmail
// must match a row whose status is active and whose expiry date has not
// passed.
func (g *Gate) Verify(ctx context.Context, code, name, tin, gmail string) (*Session, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	tin = strings.TrimSpace(tin)
	gmail = strings.TrimSpace(gmail)
	if code == "" || name == "" || tin == "" || gmail == "" {
		return nil, fmt.Errorf("access code, name, TIN and gmail are all required")
	}

	rows, err := g.FetchCodes(ctx)
	if err != nil {
		return nil, err
	}

	hit, ok := matchRow(rows, code, gmail)
	if !ok {
		return nil, fmt.Errorf("no matching ACTIVE record with a valid EXPIRY_DATE")
	}

	return &Session{
		Code:       code,
		Name:       name,
		TIN:        tin,
		Gmail:      gmail,
		Expiry:     hit.ExpiryDate,
		VerifiedAt: time.Now(),
	}, nil
}

func matchRow(rows []Row, code, gmail string) (Row, bool) {
	today := time.Now().Format("2006-01-02")
	for _, r := range rows {
		if !strings.EqualFold(r.Code, code) || !strings.EqualFold(r.Gmail, gmail) {
			continue
		}
		if !strings.EqualFold(r.Status, "active") {
			continue
		}
		// Lexicographic compare is date compare for YYYY-MM-DD.
		if r.ExpiryDate < today {
			continue
		}
		return r, true
	}
	return Row{}, false
}

// ParseCodes parses the issued-codes CSV. The sheet is published by a
// spreadsheet export, so the header row names the columns and cells may be
// quoted.
func ParseCodes(text string) []Row {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	headers := splitLine(lines[0])
	idx := map[string]int{}
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(cols []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(cols) {
			return ""
		}
		return strings.TrimSpace(cols[i])
	}

	rows := make([]Row, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cols := splitLine(line)
		rows = append(rows, Row{
			Code:       col(cols, "code"),
			Name:       col(cols, "name"),
			TIN:        col(cols, "tin"),
			Gmail:      col(cols, "gmail"),
			Status:     col(cols, "status"),
			ExpiryDate: col(cols, "expiry_date"),
		})
	}
	return rows
}

// splitLine splits one CSV line, honoring double-quoted cells with escaped
// quotes.
func splitLine(line string) []string {
	var out []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else {
				quoted = !quoted
			}
		case c == ',' && !quoted:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}
