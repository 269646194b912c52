// Package nesco wraps the NESCO prepaid panel lookup. It never touches
// stored state; every failure is reported as a typed FetchError so callers
// can degrade gracefully.
package nesco

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

type FetchKind int

const (
	// KindNotFound means the panel does not recognize the meter number.
	KindNotFound FetchKind = iota + 1
	// KindUnavailable covers transport errors, timeouts and 5xx responses.
	KindUnavailable
	// KindParseFailure means the response shape changed and no balance
	// value could be extracted.
	KindParseFailure
)

func (k FetchKind) String() string {
	switch k {
	case KindNotFound:
		return "meter not found"
	case KindUnavailable:
		return "source unavailable"
	case KindParseFailure:
		return "response not parsable"
	default:
		return "unknown"
	}
}

type FetchError struct {
	Kind   FetchKind
	Detail string
}

func (e *FetchError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Reading is one balance observation as returned by the panel.
type Reading struct {
	Balance   float64
	CheckedAt time.Time
}

type Client struct {
	http    *http.Client
	baseURL string
	log     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log,
	}
}

// Fetch posts a search for meterNumber and extracts the balance from the
// returned HTML table.
func (c *Client) Fetch(ctx context.Context, meterNumber string) (*Reading, error) {
	if !isDigits(meterNumber) {
		return nil, &FetchError{Kind: KindNotFound, Detail: "meter number must be digits"}
	}

	form := url.Values{}
	form.Set("search", meterNumber)
	form.Set("from", "mob")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &FetchError{Kind: KindUnavailable, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("meterNumber", meterNumber).Warn("nesco request failed")
		return nil, &FetchError{Kind: KindUnavailable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: KindUnavailable, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Kind: KindUnavailable, Detail: err.Error()}
	}

	balance, perr := parseBalance(string(body))
	if perr != nil {
		return nil, perr
	}
	return &Reading{Balance: balance, CheckedAt: time.Now().UTC()}, nil
}

// parseBalance walks the HTML looking for the table row whose first cell
// mentions "Balance" and reads the numeric value from the next cell.
func parseBalance(body string) (float64, *FetchError) {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "no data found") || strings.Contains(lower, "no record found") {
		return 0, &FetchError{Kind: KindNotFound}
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return 0, &FetchError{Kind: KindParseFailure, Detail: err.Error()}
	}

	raw, ok := findBalanceCell(doc)
	if !ok {
		return 0, &FetchError{Kind: KindParseFailure, Detail: "balance row missing"}
	}

	balance, ok := extractNumber(raw)
	if !ok {
		return 0, &FetchError{Kind: KindParseFailure, Detail: "balance value not numeric"}
	}
	return balance, nil
}

func findBalanceCell(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "td" && strings.Contains(nodeText(n), "Balance") {
		for sib := n.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && sib.Data == "td" {
				return strings.TrimSpace(nodeText(sib)), true
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if text, ok := findBalanceCell(child); ok {
			return text, ok
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// extractNumber strips everything but digits and the decimal point, the
// same way the panel's "123.45 BDT" cells are read.
func extractNumber(raw string) (float64, bool) {
	var sb strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
